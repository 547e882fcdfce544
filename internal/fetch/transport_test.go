package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeScript drops an executable shell script into a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetcher.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestLocalFetchSuccess(t *testing.T) {
	script := writeScript(t, `printf '{"time":{"%s":1},"kw":"%s"}' "$1" "$2"`)
	tr := &Local{Script: script}

	out, err := tr.Fetch(context.Background(), "2022-01-01 2022-02-01", "flu", "")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.Contains(string(out), "2022-01-01 2022-02-01") {
		t.Errorf("window not passed through, got %q", out)
	}
	if !strings.Contains(string(out), `"kw":"flu"`) {
		t.Errorf("keyword not passed through, got %q", out)
	}
}

func TestLocalFetchGeoArgument(t *testing.T) {
	script := writeScript(t, `printf '%d' "$#"`)
	tr := &Local{Script: script}

	out, err := tr.Fetch(context.Background(), "w", "k", "US")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(out) != "3" {
		t.Errorf("argv count with geo = %s, want 3", out)
	}

	out, err = tr.Fetch(context.Background(), "w", "k", "")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(out) != "2" {
		t.Errorf("argv count without geo = %s, want 2", out)
	}
}

func TestFetchResponseError(t *testing.T) {
	script := writeScript(t, `printf '{"error":{"code":500,"msg":"quota"}}'; exit 5`)
	tr := &Local{Script: script}

	_, err := tr.Fetch(context.Background(), "w", "k", "")
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if respErr.Code != 500 || respErr.Msg != "quota" {
		t.Errorf("ResponseError = %+v, want code 500 msg quota", respErr)
	}
}

func TestFetchResponseErrorBadPayloadIsFatal(t *testing.T) {
	script := writeScript(t, `printf 'not json'; exit 5`)
	tr := &Local{Script: script}

	_, err := tr.Fetch(context.Background(), "w", "k", "")
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError for unparseable error payload, got %v", err)
	}
}

func TestFetchFatalCapturesOutput(t *testing.T) {
	script := writeScript(t, `echo partial; echo broken >&2; exit 3`)
	tr := &Local{Script: script}

	_, err := tr.Fetch(context.Background(), "w", "k", "")
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if !strings.Contains(fatal.Stdout, "partial") {
		t.Errorf("stdout not captured: %q", fatal.Stdout)
	}
	if !strings.Contains(fatal.Stderr, "broken") {
		t.Errorf("stderr not captured: %q", fatal.Stderr)
	}
}

func TestRunStdinPayload(t *testing.T) {
	// The secure-shell transport passes window, keyword and geo as a
	// three-line stdin payload; exercise the helper directly with cat.
	out, err := run(context.Background(), []string{"cat"}, []byte("w\nk\nUS\n"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if string(out) != "w\nk\nUS\n" {
		t.Errorf("stdin payload = %q", out)
	}
}

func TestTransportIdentity(t *testing.T) {
	local := &Local{Script: "/opt/fetch.sh"}
	if local.Name() != "popen:/opt/fetch.sh" || local.Host() != "localhost" {
		t.Errorf("Local identity = %s@%s", local.Name(), local.Host())
	}

	sudo := &Sudo{User: "gt", Group: "gt", Script: "/opt/fetch.sh"}
	if sudo.Name() != "sudo:gt" || sudo.Host() != "localhost" {
		t.Errorf("Sudo identity = %s@%s", sudo.Name(), sudo.Host())
	}

	ssh := &SSH{User: "gt", RemoteHost: "fetch1.example.org"}
	if ssh.Name() != "ssh:gt" || ssh.Host() != "fetch1.example.org" {
		t.Errorf("SSH identity = %s@%s", ssh.Name(), ssh.Host())
	}
}

func TestFetchContextCancellation(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	tr := &Local{Script: script}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Fetch(ctx, "w", "k", "")
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError on cancelled context, got %v", err)
	}
}
