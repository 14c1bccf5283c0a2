// Package vpn manages the network tunnel the portal is only reachable
// through. The connect call is deliberately context-free: the underlying
// tunnel client offers no cancellation hook, so callers that need a
// deadline must race the call against a timer and abandon it.
package vpn

import (
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rmacedo/reportflow/internal/config"
)

// Dialer establishes a tunnel to a single gateway. Swapped in tests.
type Dialer interface {
	Dial(gateway string) error
}

// Prober confirms the portal is reachable once a tunnel is up.
type Prober interface {
	Probe(timeout time.Duration) error
}

// Manager walks the configured gateway list until one of them yields a
// working route to the portal.
type Manager struct {
	cfg    *config.VPNConfig
	dialer Dialer
	prober Prober
	logger *zap.Logger
}

// NewManager builds a Manager with the exec-based dialer and HTTP prober.
func NewManager(cfg *config.VPNConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		dialer: &execDialer{command: cfg.DialCommand},
		prober: &httpProber{url: cfg.ProbeURL},
		logger: logger,
	}
}

// NewManagerWith builds a Manager with explicit collaborators. Tests use it
// to avoid shelling out.
func NewManagerWith(cfg *config.VPNConfig, dialer Dialer, prober Prober, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, dialer: dialer, prober: prober, logger: logger}
}

// ConnectWithFallback tries each gateway in order: dial, then probe the
// portal. Returns (true, gateway message) on the first working gateway, or
// (false, summary) once the list is exhausted. Blocking; no cancellation.
func (m *Manager) ConnectWithFallback() (bool, string) {
	if len(m.cfg.Gateways) == 0 {
		return false, "no gateways configured"
	}

	// Each gateway gets an equal slice of the switch budget for its probe.
	probeTimeout := m.cfg.SwitchTimeout / time.Duration(len(m.cfg.Gateways))
	if probeTimeout < time.Second {
		probeTimeout = time.Second
	}

	var failures []string
	for _, gw := range m.cfg.Gateways {
		m.logger.Info("dialing gateway", zap.String("gateway", gw))

		if err := m.dialer.Dial(gw); err != nil {
			m.logger.Warn("gateway dial failed", zap.String("gateway", gw), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: dial: %v", gw, err))
			continue
		}
		if err := m.prober.Probe(probeTimeout); err != nil {
			m.logger.Warn("portal unreachable through gateway",
				zap.String("gateway", gw), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: probe: %v", gw, err))
			continue
		}

		return true, fmt.Sprintf("connected via %s", gw)
	}

	return false, fmt.Sprintf("all gateways failed: %s", strings.Join(failures, "; "))
}

type execDialer struct {
	command string
}

func (d *execDialer) Dial(gateway string) error {
	parts := strings.Fields(d.command)
	if len(parts) == 0 {
		return fmt.Errorf("empty dial command")
	}
	args := append(parts[1:], gateway)
	out, err := exec.Command(parts[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", parts[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

type httpProber struct {
	url string
}

func (p *httpProber) Probe(timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(p.url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe returned %d", resp.StatusCode)
	}
	return nil
}
