package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/lms-auth/internal/crypto"
	"github.com/and161185/lms-auth/internal/limiter"
	"github.com/and161185/lms-auth/internal/metrics"
	"github.com/and161185/lms-auth/internal/repository/memory"
	httpserver "github.com/and161185/lms-auth/internal/server/http"
	"github.com/and161185/lms-auth/internal/service"
	"github.com/and161185/lms-auth/internal/token"
)

func newAPI(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	codec, err := token.NewCodec([]byte("cli-test-secret"), time.Minute)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	svc, err := service.NewSessionService(service.SessionDeps{
		Users:   memory.NewUserRepo(),
		Audits:  memory.NewAuditRepo(),
		Refresh: service.NewRefreshStore(memory.NewRefreshRepo(), time.Hour),
		Codec:   codec,
		Hasher:  pkgcrypto.NewBcryptHasher(4),
		Limiter: limiter.Nop{},
		Logger:  zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	srv := httptest.NewServer(httpserver.NewRouter(httpserver.Deps{
		Sessions: svc, Verifier: codec, Metrics: metrics.New(), Logger: zap.NewNop(),
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

type harness struct {
	addr string
	dir  string
}

func (h harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	e := env{stdin: strings.NewReader(stdin), stdout: &out, stderr: &errOut, configDir: h.dir}
	err := run(context.Background(), append([]string{"-addr", h.addr}, args...), e)
	return out.String(), err
}

func Test_run_SessionLifecycle(t *testing.T) {
	h := harness{addr: newAPI(t), dir: t.TempDir()}

	if out, err := h.run(t, "pw-from-stdin\n", "register", "-u", "dana", "-p", "-"); err != nil || !strings.Contains(out, "ok") {
		t.Fatalf("register: %q %v", out, err)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "session.json")); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}

	// a fresh process reuses the stored session
	out, err := h.run(t, "", "me")
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	var p struct{ Username, Role string }
	if json.Unmarshal([]byte(out), &p) != nil || p.Username != "dana" || p.Role != "student" {
		t.Fatalf("me output unexpected: %s", out)
	}

	if out, err := h.run(t, "", "refresh"); err != nil || !strings.HasPrefix(out, "ok") {
		t.Fatalf("refresh: %q %v", out, err)
	}
	if out, err := h.run(t, "", "get", "/auth/me"); err != nil || !strings.Contains(out, `"dana"`) {
		t.Fatalf("get: %q %v", out, err)
	}
	if _, err := h.run(t, "", "passwd", "-old", "pw-from-stdin", "-new", "next-pw"); err != nil {
		t.Fatalf("passwd: %v", err)
	}
	if _, err := h.run(t, "", "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "session.json")); !os.IsNotExist(err) {
		t.Fatalf("session file should be removed, stat err=%v", err)
	}

	if _, err := h.run(t, "", "me"); err == nil {
		t.Fatalf("me after logout should fail")
	}
	if out, err := h.run(t, "", "login", "-u", "dana", "-p", "next-pw"); err != nil || !strings.HasPrefix(out, "ok") {
		t.Fatalf("login: %q %v", out, err)
	}
}

func Test_run_Usage(t *testing.T) {
	h := harness{addr: "http://127.0.0.1:1", dir: t.TempDir()}

	if _, err := h.run(t, ""); !errors.Is(err, errUsage) {
		t.Fatalf("no command: want errUsage, got %v", err)
	}
	if _, err := h.run(t, "", "bogus"); !errors.Is(err, errUsage) {
		t.Fatalf("unknown command: want errUsage, got %v", err)
	}
	if _, err := h.run(t, "", "login", "-u", "x"); err == nil {
		t.Fatalf("login without password should fail")
	}
	out, err := h.run(t, "", "version")
	if err != nil || !strings.HasPrefix(out, "lms dev") {
		t.Fatalf("version: %q %v", out, err)
	}
}

func Test_readSecret(t *testing.T) {
	t.Parallel()

	if s, _ := readSecret("plain", nil); s != "plain" {
		t.Fatalf("plain: %q", s)
	}
	s, err := readSecret("-", strings.NewReader("line1\r\nline2\n"))
	if err != nil || s != "line1" {
		t.Fatalf("stdin: %q %v", s, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printJSON(&buf, map[string]any{"a": 1})

	var m map[string]any
	if json.Unmarshal(buf.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\n  ")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	tc, err := loadTLS("", true)
	if err != nil || tc == nil || !tc.InsecureSkipVerify {
		t.Fatalf("insecure: %v %v", tc, err)
	}

	tc, err = loadTLS("", false)
	if err != nil || tc != nil {
		t.Fatalf("system default should be nil config: %v %v", tc, err)
	}

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	tc, err = loadTLS(tmp, false)
	if err == nil || tc != nil {
		t.Fatalf("bad CA should error, got cfg=%v err=%v", tc, err)
	}

	hc, err := httpClient("", true, time.Second)
	if err != nil || hc.Transport == nil || hc.Timeout != time.Second {
		t.Fatalf("httpClient: %+v %v", hc, err)
	}
}
