// Command smoke_probe exercises a running tpm-api instance and reports
// per-endpoint status and latency. Intended for post-deploy checks: it exits
// non-zero when any critical target fails.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type target struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	WantStatus int    `json:"want_status"`
	Auth       bool   `json:"auth"`
	Critical   bool   `json:"critical"`
}

type probeResult struct {
	Target   target
	Status   int
	Duration time.Duration
	Error    error
}

var defaultTargets = []target{
	{Method: http.MethodGet, Path: "/health", WantStatus: http.StatusOK, Critical: true},
	{Method: http.MethodGet, Path: "/ready", WantStatus: http.StatusOK, Critical: true},
	{Method: http.MethodGet, Path: "/metrics", WantStatus: http.StatusOK},
	{Method: http.MethodGet, Path: "/api/v1/programs", WantStatus: http.StatusOK, Auth: true, Critical: true},
	{Method: http.MethodGet, Path: "/api/v1/sessions", WantStatus: http.StatusOK, Auth: true},
	{Method: http.MethodGet, Path: "/api/v1/attendance", WantStatus: http.StatusOK, Auth: true},
	{Method: http.MethodGet, Path: "/api/v1/reports/master-log", WantStatus: http.StatusOK, Auth: true},
}

func main() {
	var (
		base        string
		token       string
		targetsPath string
		timeout     time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&token, "token", os.Getenv("SMOKE_PROBE_TOKEN"), "Bearer token for authenticated targets")
	flag.StringVar(&targetsPath, "targets", "", "Optional JSON targets file overriding the defaults")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	targets := defaultTargets
	if targetsPath != "" {
		loaded, err := loadTargets(targetsPath)
		if err != nil {
			log.Fatalf("failed to load targets: %v", err)
		}
		targets = loaded
	}

	client := &http.Client{Timeout: timeout}
	var results []probeResult
	criticalFailures := 0

	for _, tgt := range targets {
		result := probe(client, base, token, tgt)
		if !passed(result) && tgt.Critical {
			criticalFailures++
		}
		results = append(results, result)
	}

	printReport(results)

	fmt.Printf("Critical failures: %d\n", criticalFailures)
	if criticalFailures > 0 {
		os.Exit(1)
	}
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var targets []target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return targets, nil
}

func probe(client *http.Client, base, token string, tgt target) probeResult {
	result := probeResult{Target: tgt}

	method := strings.ToUpper(strings.TrimSpace(tgt.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := tgt.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := strings.TrimRight(base, "/") + path

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		result.Error = err
		return result
	}
	if tgt.Auth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	result.Status = resp.StatusCode
	return result
}

func passed(result probeResult) bool {
	if result.Error != nil {
		return false
	}
	want := result.Target.WantStatus
	if want == 0 {
		want = http.StatusOK
	}
	return result.Status == want
}

func printReport(results []probeResult) {
	fmt.Println("Smoke Probe Report")
	fmt.Println("==================")
	for _, result := range results {
		status := "OK"
		if !passed(result) {
			status = "FAIL"
		}
		fmt.Printf("[%s] %s %s\n", status, result.Target.Method, result.Target.Path)
		if result.Error != nil {
			fmt.Printf("  Error: %v\n", result.Error)
			continue
		}
		fmt.Printf("  Status: %d (%s) | Critical: %t\n", result.Status, result.Duration, result.Target.Critical)
	}
}
