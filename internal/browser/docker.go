package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	DefaultDockerImage = "browserless/chrome:latest"
	managedByLabel     = "serpwatch"
	devtoolsPort       = "3000/tcp"
)

// DockerLauncher runs each session's browser in its own browserless
// container and attaches to it over CDP.
type DockerLauncher struct {
	client  *client.Client
	runtime *Runtime
	image   string
	timeout time.Duration
	ready   time.Duration
	logger  *zap.Logger
}

// NewDockerLauncher connects to the docker daemon from the environment.
func NewDockerLauncher(runtime *Runtime, image string, timeout time.Duration, logger *zap.Logger) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if image == "" {
		image = DefaultDockerImage
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &DockerLauncher{
		client:  cli,
		runtime: runtime,
		image:   image,
		timeout: timeout,
		ready:   10 * time.Second,
		logger:  logger.With(zap.String("component", "docker")),
	}, nil
}

// Launch starts a container and connects a driver to it. The container is
// removed when the driver closes or when any later step fails.
func (l *DockerLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	containerConfig := &container.Config{
		Image: l.image,
		Labels: map[string]string{
			"session-id": opts.SessionID,
			"managed-by": managedByLabel,
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			devtoolsPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
	}

	resp, err := l.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(opts.SessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID

	cleanup := func() error {
		return l.stop(context.Background(), containerID)
	}

	if err := l.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	// Resolve the published port
	inspect, err := l.client.ContainerInspect(ctx, containerID)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[devtoolsPort]
	if len(bindings) == 0 {
		cleanup()
		return nil, fmt.Errorf("container %s published no devtools port", containerID[:12])
	}
	port := bindings[0].HostPort

	if err := l.waitForBrowserReady(ctx, port); err != nil {
		cleanup()
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	pw, err := l.runtime.Playwright()
	if err != nil {
		cleanup()
		return nil, err
	}

	endpoint := ConnectURL(port, opts.Proxy)
	b, err := pw.Chromium.ConnectOverCDP(endpoint, playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: playwright.Float(float64(l.timeout.Milliseconds())),
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to connect over CDP: %w", err)
	}

	d, err := newPlaywrightDriver(b, l.timeout, cleanup)
	if err != nil {
		b.Close()
		cleanup()
		return nil, err
	}
	d.devtools = endpoint

	l.logger.Info("browser container started",
		zap.String("session_id", opts.SessionID),
		zap.String("container_id", containerID[:12]),
		zap.String("port", port),
		zap.String("proxy", opts.Proxy))

	return d, nil
}

// ConnectURL builds the browserless websocket endpoint. The proxy, if any,
// is passed as a launch flag in the query string.
func ConnectURL(port, proxy string) string {
	endpoint := fmt.Sprintf("ws://localhost:%s", port)
	if proxy == "" {
		return endpoint
	}
	q := url.Values{}
	q.Set("--proxy-server", "http://"+proxy)
	return endpoint + "?" + q.Encode()
}

func containerName(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("serpwatch-%s", short)
}

func (l *DockerLauncher) stop(ctx context.Context, containerID string) error {
	timeout := 10
	stopOptions := container.StopOptions{
		Timeout: &timeout,
	}

	if err := l.client.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	l.logger.Debug("browser container removed", zap.String("container_id", containerID[:12]))
	return nil
}

// Reap removes containers left behind by an earlier run.
func (l *DockerLauncher) Reap(ctx context.Context) (int, error) {
	containers, err := l.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", "managed-by="+managedByLabel)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		if err := l.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			l.logger.Warn("failed to remove stale container", zap.String("container_id", c.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// EnsureImage pulls the browser image if it is not present locally.
func (l *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := l.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == l.image {
				return nil
			}
		}
	}

	l.logger.Info("pulling browser image", zap.String("image", l.image))
	reader, err := l.client.ImagePull(ctx, l.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the docker client and the playwright runtime.
func (l *DockerLauncher) Close() error {
	rerr := l.runtime.Stop()
	if err := l.client.Close(); err != nil {
		return err
	}
	return rerr
}

// waitForBrowserReady polls the /json/version endpoint
func (l *DockerLauncher) waitForBrowserReady(ctx context.Context, port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/json/version", port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	ready := Poll(ctx, func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, l.ready, 500*time.Millisecond)

	if !ready {
		return fmt.Errorf("browser did not become ready within %s", l.ready)
	}
	return nil
}
