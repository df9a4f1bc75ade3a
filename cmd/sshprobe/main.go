// Command sshprobe dials an SSH server, drives the transport layer
// through version exchange, key exchange and the ssh-userauth service
// request, and reports what it negotiated. It does not authenticate
// or open any channel — it exists to exercise and demonstrate the
// transport package in isolation.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/jpillora/jplog"
	"github.com/jpillora/opts"
	"gopkg.in/yaml.v3"

	"github.com/jpillora/sshtransport/transport"
	"github.com/jpillora/sshtransport/transport/algorithms"
	"github.com/jpillora/sshtransport/transport/packet"
)

type config struct {
	Host       string `opts:"env,help=remote host to connect to"`
	Port       int    `opts:"help=remote port"`
	Timeout    int    `opts:"help=seconds to wait for kex/service negotiation"`
	Insecure   bool   `opts:"help=accept any host key without verification"`
	Verbose    bool   `opts:"short=v,help=verbose logs"`
	ConfigFile string `opts:"name=config,help=path to a YAML config file overriding these flags"`
}

func (c *config) Run() error {
	if c.ConfigFile != "" {
		if err := loadYAMLConfig(c.ConfigFile, c); err != nil {
			return err
		}
	}

	h := jplog.Handler(os.Stdout)
	if c.Verbose {
		h = h.Verbose()
	}
	logger := slog.New(h)

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", c.Host, c.Port), time.Duration(c.Timeout)*time.Second)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	session := transport.New(transport.Config{
		Version:    "sshtransport_1.0",
		Algorithms: algorithms.Default(),
		Timeout:    c.Timeout,
		Logger:     logger,
	})

	session.AddHostKeyVerifier(func(hostname string, port int, key transport.PublicKey) bool {
		if c.Insecure {
			logger.Warn("accepting host key without verification", "host", hostname, "port", port)
			return true
		}
		logger.Error("no host key verification configured; refusing", "host", hostname, "port", port)
		return false
	})

	if err := session.Init(c.Host, c.Port, conn, conn); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer session.Disconnect(transport.DisconnectByApplication, "sshprobe done")

	logger.Info("connected", "client", session.ClientVersion(), "server", session.ServerVersion())

	if err := session.DoKex(); err != nil {
		return fmt.Errorf("kex: %w", err)
	}
	logger.Info("kex complete", "sessionID", fmt.Sprintf("%x", session.GetSessionID()))

	if err := session.ReqService(probeService{logger: logger}); err != nil {
		return fmt.Errorf("service request: %w", err)
	}
	logger.Info("ssh-userauth service accepted")

	return session.Join()
}

func loadYAMLConfig(path string, c *config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// probeService is a do-nothing Service that just logs whatever arrives
// after ssh-userauth is accepted; sshprobe never attempts to
// authenticate.
type probeService struct {
	logger *slog.Logger
}

func (probeService) Name() string { return "ssh-userauth" }

func (s probeService) Handle(msg transport.Message, buf *packet.Buffer) error {
	s.logger.Debug("service message", "msg", msg)
	return nil
}

func (s probeService) NotifyDisconnect() { s.logger.Info("disconnected") }

func (s probeService) NotifyError(err error) { s.logger.Error("transport error", "err", err) }

func (s probeService) NotifyUnimplemented(seq uint32) {
	s.logger.Debug("peer does not implement our packet", "seq", seq)
}

func main() {
	c := config{Host: "localhost", Port: 22, Timeout: 10}
	opts.Parse(&c).Run()
}
