package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hospitalityhub/platform/libs/config"
	"github.com/hospitalityhub/platform/libs/grpcx"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const usage = `usage: catalogctl <validate|export|push|health> [flags]

  validate -file tiers.yaml            check a catalog document offline
  export   [-base-url URL] [-out f]    fetch the running catalog as YAML
  push     -file tiers.yaml [-base-url URL]
                                       validate locally, then replace the running catalog
  health   [-grpc-addr host:port]      query the service's grpc health endpoint`

func main() {
	if len(os.Args) < 2 {
		fatal(usage)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	baseURL := fs.String("base-url", config.String("BASE_URL", "http://localhost:8090"), "entitlement service base url")
	file := fs.String("file", config.String("TIER_CATALOG_PATH", ""), "catalog document (yaml or json)")
	out := fs.String("out", "", "write export here instead of stdout")
	grpcAddr := fs.String("grpc-addr", config.String("GRPC_ADDR", "localhost:9095"), "entitlement service grpc address")
	userID := fs.String("user-id", config.String("USER_ID", "catalogctl"), "admin user id sent as X-User-Id")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 10 * time.Second}
	switch cmd {
	case "validate":
		doc := mustLoad(*file)
		fmt.Printf("ok version=%s tiers=%d\n", doc.Version, len(doc.Tiers))
	case "export":
		raw, err := export(client, *baseURL, *userID)
		if err != nil {
			fatal(err.Error())
		}
		if *out == "" {
			_, _ = os.Stdout.Write(raw)
			return
		}
		if err := os.WriteFile(*out, raw, 0o644); err != nil {
			fatal(err.Error())
		}
	case "push":
		doc := mustLoad(*file)
		raw, err := tiers.EncodeDocumentYAML(doc)
		if err != nil {
			fatal(err.Error())
		}
		if err := push(client, *baseURL, *userID, raw); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("pushed version=%s\n", doc.Version)
	case "health":
		status, err := health(context.Background(), *grpcAddr)
		if err != nil {
			fatal(err.Error())
		}
		fmt.Println(status)
		if status != healthpb.HealthCheckResponse_SERVING.String() {
			os.Exit(1)
		}
	default:
		fatal(usage)
	}
}

func health(ctx context.Context, addr string) (string, error) {
	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}

// mustLoad decodes and compiles the document so push never sends a catalog the
// service would reject.
func mustLoad(path string) tiers.Document {
	if strings.TrimSpace(path) == "" {
		fatal("-file is required")
	}
	doc, err := tiers.ReadDocumentFile(path)
	if err == nil {
		_, err = tiers.Compile(doc)
	}
	if err != nil {
		fatal(err.Error())
	}
	return doc
}

func export(client *http.Client, baseURL, userID string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, configURL(baseURL), nil)
	if err != nil {
		return nil, err
	}
	adminHeaders(req, userID)
	req.Header.Set("Accept", "application/yaml")
	return do(client, req)
}

func push(client *http.Client, baseURL, userID string, raw []byte) error {
	req, err := http.NewRequest(http.MethodPut, configURL(baseURL), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	adminHeaders(req, userID)
	req.Header.Set("Content-Type", "application/yaml")
	_, err = do(client, req)
	return err
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func configURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v1/admin/tiers/config"
}

func adminHeaders(req *http.Request, userID string) {
	req.Header.Set("X-Role", "admin")
	req.Header.Set("X-User-Id", userID)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
