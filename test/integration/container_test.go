//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresImage = "postgres:16-alpine"

// startPostgres runs a throwaway postgres container through the Docker CLI
// and returns its connection string and a cleanup function. Docker picks
// the host port; CAREFLOW_TEST_PG_IMAGE overrides the image.
func startPostgres(ctx context.Context) (string, func(), error) {
	image := os.Getenv("CAREFLOW_TEST_PG_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	out, err := docker(ctx, "run", "-d", "--rm",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=careflow",
		"-e", "POSTGRES_PASSWORD=careflow",
		"-e", "POSTGRES_DB=careflow_test",
		image,
	)
	if err != nil {
		return "", nil, err
	}
	containerID := out
	cleanup := func() {
		_, _ = docker(context.Background(), "rm", "-f", containerID)
	}

	hostPort, err := docker(ctx, "port", containerID, "5432/tcp")
	if err != nil {
		cleanup()
		return "", nil, err
	}
	// "127.0.0.1:49153", possibly followed by an IPv6 mapping.
	hostPort = strings.Fields(hostPort)[0]

	connStr := fmt.Sprintf("postgres://careflow:careflow@%s/careflow_test?sslmode=disable", hostPort)
	if err := waitForPostgres(ctx, connStr, time.Minute); err != nil {
		cleanup()
		return "", nil, err
	}
	return connStr, cleanup, nil
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w\noutput: %s", args[0], err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

func waitForPostgres(ctx context.Context, connStr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	var lastErr error
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
		case <-tick.C:
		}
	}
}
