package browser

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"

	"vehicheck/internal/config"
	"vehicheck/internal/logger"
)

// Launcher starts headless Chrome instances, one per automation session.
type Launcher struct {
	cfg config.BrowserConfig
	log logger.Logger
}

func NewLauncher(cfg config.BrowserConfig, l logger.Logger) *Launcher {
	if l == nil {
		l = logger.NewNop()
	}
	return &Launcher{cfg: cfg, log: l}
}

// Browser owns one Chrome process and its single automation page.
type Browser struct {
	cmd     *exec.Cmd
	dataDir string
	conn    *rpcc.Conn
	page    *Page
	cancel  context.CancelFunc
	log     logger.Logger
}

// Launch starts a fresh Chrome with an ephemeral devtools port and a private
// user-data dir, waits for the devtools endpoint to come up, and attaches to
// the initial page target.
func (l *Launcher) Launch(ctx context.Context) (*Browser, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("allocate devtools port: %w", err)
	}
	dataDir, err := os.MkdirTemp("", "vehicheck-chrome-*")
	if err != nil {
		return nil, fmt.Errorf("user data dir: %w", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + dataDir,
		fmt.Sprintf("--window-size=%d,%d", l.cfg.WindowWidth, l.cfg.WindowHeight),
		"--no-first-run",
		"--disable-background-networking",
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, l.cfg.Args...)

	cmd := exec.Command(l.cfg.Bin, args...)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("start browser %q: %w", l.cfg.Bin, err)
	}
	l.log.Debug("browser process started", "pid", cmd.Process.Pid, "port", port)

	bctx, cancel := context.WithCancel(context.Background())
	b := &Browser{cmd: cmd, dataDir: dataDir, cancel: cancel, log: l.log}

	dt := devtool.New(fmt.Sprintf("http://127.0.0.1:%d", port))
	target, err := l.probe(ctx, dt)
	if err != nil {
		b.Close()
		return nil, err
	}

	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("dial devtools: %w", err)
	}
	b.conn = conn

	client := cdp.NewClient(conn)
	page, err := newPage(bctx, client, l.log)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.page = page
	return b, nil
}

// probe polls the devtools endpoint until Chrome accepts connections and a
// page target exists, bounded by the configured probe timeout.
func (l *Launcher) probe(ctx context.Context, dt *devtool.DevTools) (*devtool.Target, error) {
	deadline := time.Duration(l.cfg.ProbeTimeoutSec) * time.Second
	pctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		target, err := dt.Get(pctx, devtool.Page)
		if err == nil {
			return target, nil
		}
		select {
		case <-pctx.Done():
			return nil, fmt.Errorf("devtools endpoint not ready within %s: %w", deadline, err)
		case <-ticker.C:
		}
	}
}

// Page returns the browser's automation page.
func (b *Browser) Page() *Page { return b.page }

// Close tears the whole instance down: rpcc connection, process, data dir.
// Safe to call more than once.
func (b *Browser) Close() error {
	b.cancel()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	if b.cmd != nil && b.cmd.Process != nil {
		b.cmd.Process.Kill()
		b.cmd.Wait()
		b.cmd = nil
	}
	if b.dataDir != "" {
		os.RemoveAll(b.dataDir)
		b.dataDir = ""
	}
	return nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
