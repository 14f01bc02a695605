package ollama

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/23skdu/longbow-scout/internal/config"
	"github.com/23skdu/longbow-scout/internal/gguf"
)

func testClient(t *testing.T, storeDir, daemonURL string) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Ollama.ManifestDir = storeDir
	if daemonURL != "" {
		cfg.Ollama.DaemonURL = daemonURL
	}
	return New(cfg)
}

func writeManifest(t *testing.T, base, host, ns, name, tag string, m Manifest) {
	t.Helper()
	dir := filepath.Join(base, "manifests", host, ns, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, tag), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeBlob(t *testing.T, base, digest string, data []byte) string {
	t.Helper()
	dir := filepath.Join(base, "blobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, strings.Replace(digest, ":", "-", 1))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// seedStore lays out a single llama3:latest model with a config layer
// and a model layer, returning the store base and the blob path.
func seedStore(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	writeManifest(t, base, DefaultRegistry, DefaultNamespace, "llama3", "latest", Manifest{
		SchemaVersion: 2,
		Layers: []Layer{
			{MediaType: "application/vnd.ollama.image.config", Digest: "sha256:cfg", Size: 100},
			{MediaType: MediaTypeModel, Digest: "sha256:abc123", Size: 1234567},
		},
	})
	blob := writeBlob(t, base, "sha256:abc123", []byte("weights"))
	return base, blob
}

func TestParseModelName(t *testing.T) {
	cases := []struct {
		full     string
		wantName string
		wantTag  string
	}{
		{"llama3", "llama3", "latest"},
		{"llama3:8b", "llama3", "8b"},
		{"mistral:latest", "mistral", "latest"},
		{"model:v1.0", "model", "v1.0"},
		{"example.com:5000/team/model", "example.com:5000/team/model", "latest"},
		{"example.com:5000/team/model:fp16", "example.com:5000/team/model", "fp16"},
	}
	for _, tc := range cases {
		name, tag := ParseModelName(tc.full)
		if name != tc.wantName || tag != tc.wantTag {
			t.Errorf("ParseModelName(%q) = (%q, %q), want (%q, %q)",
				tc.full, name, tag, tc.wantName, tc.wantTag)
		}
	}
}

func TestRefHelpers(t *testing.T) {
	ref := Ref("llama3:latest")
	if ref != "ollama://llama3:latest" {
		t.Errorf("Ref = %q", ref)
	}
	if !IsRef(ref) {
		t.Error("IsRef rejected its own ref")
	}
	if IsRef("https://example.com/model.gguf") || IsRef("llama3") {
		t.Error("IsRef accepted a non-ref")
	}
	if got := TrimRef(ref); got != "llama3:latest" {
		t.Errorf("TrimRef = %q", got)
	}
}

func TestResolveModelPath(t *testing.T) {
	base, blob := seedStore(t)
	c := testClient(t, base, "")

	for _, name := range []string{"llama3", "llama3:latest"} {
		got, err := c.ResolveModelPath(name)
		if err != nil {
			t.Fatalf("ResolveModelPath(%q): %v", name, err)
		}
		if got != blob {
			t.Errorf("ResolveModelPath(%q) = %q, want %q", name, got, blob)
		}
	}
}

func TestResolveModelPathTag(t *testing.T) {
	base := t.TempDir()
	writeManifest(t, base, DefaultRegistry, DefaultNamespace, "llama3", "8b", Manifest{
		SchemaVersion: 2,
		Layers:        []Layer{{MediaType: MediaTypeModel, Digest: "sha256:tag8b", Size: 10}},
	})
	blob := writeBlob(t, base, "sha256:tag8b", []byte("w"))

	c := testClient(t, base, "")
	got, err := c.ResolveModelPath("llama3:8b")
	if err != nil {
		t.Fatal(err)
	}
	if got != blob {
		t.Errorf("got %q, want %q", got, blob)
	}
	if _, err := c.ResolveModelPath("llama3"); err == nil {
		t.Error("latest tag should not resolve when only 8b exists")
	}
}

func TestResolveModelPathNamespace(t *testing.T) {
	base := t.TempDir()
	writeManifest(t, base, DefaultRegistry, "team", "custom", "latest", Manifest{
		SchemaVersion: 2,
		Layers:        []Layer{{MediaType: MediaTypeModel, Digest: "sha256:ns", Size: 10}},
	})
	blob := writeBlob(t, base, "sha256:ns", []byte("w"))

	c := testClient(t, base, "")
	got, err := c.ResolveModelPath("team/custom")
	if err != nil {
		t.Fatal(err)
	}
	if got != blob {
		t.Errorf("got %q, want %q", got, blob)
	}
}

func TestResolveModelPathFullRegistry(t *testing.T) {
	base := t.TempDir()
	writeManifest(t, base, "example.com", "team", "custom", "fp16", Manifest{
		SchemaVersion: 2,
		Layers:        []Layer{{MediaType: MediaTypeModel, Digest: "sha256:reg", Size: 10}},
	})
	blob := writeBlob(t, base, "sha256:reg", []byte("w"))

	c := testClient(t, base, "")
	got, err := c.ResolveModelPath("example.com/team/custom:fp16")
	if err != nil {
		t.Fatal(err)
	}
	if got != blob {
		t.Errorf("got %q, want %q", got, blob)
	}
}

func TestResolveModelPathMissing(t *testing.T) {
	c := testClient(t, t.TempDir(), "")
	if _, err := c.ResolveModelPath("nonexistent"); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestResolveModelPathNoModelLayer(t *testing.T) {
	base := t.TempDir()
	writeManifest(t, base, DefaultRegistry, DefaultNamespace, "cfgonly", "latest", Manifest{
		SchemaVersion: 2,
		Layers:        []Layer{{MediaType: "application/vnd.ollama.image.config", Digest: "sha256:cfg", Size: 1}},
	})

	c := testClient(t, base, "")
	_, err := c.ResolveModelPath("cfgonly")
	if err == nil || !strings.Contains(err.Error(), "no model layer") {
		t.Errorf("expected no-model-layer error, got %v", err)
	}
}

func TestResolveModelPathMissingBlob(t *testing.T) {
	base := t.TempDir()
	writeManifest(t, base, DefaultRegistry, DefaultNamespace, "noblob", "latest", Manifest{
		SchemaVersion: 2,
		Layers:        []Layer{{MediaType: MediaTypeModel, Digest: "sha256:gone", Size: 1}},
	})

	c := testClient(t, base, "")
	_, err := c.ResolveModelPath("noblob")
	if err == nil || !strings.Contains(err.Error(), "blob missing") {
		t.Errorf("expected blob-missing error, got %v", err)
	}
}

func TestStoreDirPrecedence(t *testing.T) {
	c := testClient(t, "/explicit/store", "")
	if dir, err := c.StoreDir(); err != nil || dir != "/explicit/store" {
		t.Errorf("explicit dir = (%q, %v)", dir, err)
	}

	t.Setenv("OLLAMA_MODELS", "/env/store")
	c = testClient(t, "", "")
	if dir, err := c.StoreDir(); err != nil || dir != "/env/store" {
		t.Errorf("env dir = (%q, %v)", dir, err)
	}

	t.Setenv("OLLAMA_MODELS", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, ".ollama", "models")
	if dir, err := c.StoreDir(); err != nil || dir != want {
		t.Errorf("default dir = (%q, %v), want %q", dir, err, want)
	}
}

func TestFormattedSize(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{500, "500.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1 << 20, "1.00 MB"},
		{1 << 30, "1.00 GB"},
	}
	for _, tc := range cases {
		m := Model{Size: tc.size}
		if got := m.FormattedSize(); got != tc.want {
			t.Errorf("FormattedSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}

const tagsResponse = `{"models":[
  {"name":"llama3:latest","modified_at":"2024-05-01T10:00:00Z","size":4661224676,
   "digest":"sha256:abc",
   "details":{"format":"gguf","family":"llama","parameter_size":"8B","quantization_level":"Q4_K_M"}},
  {"name":"gemma:2b","size":1678000000,"digest":"sha256:def",
   "details":{"format":"gguf","family":"gemma","parameter_size":"2B","quantization_level":"Q8_0"}}
]}`

func TestListLocalModelsDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, tagsResponse)
	}))
	defer srv.Close()

	c := testClient(t, t.TempDir(), srv.URL)
	models, err := c.ListLocalModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("len = %d, want 2", len(models))
	}
	if models[0].Name != "llama3:latest" || models[0].Details.QuantizationLevel != "Q4_K_M" {
		t.Errorf("first model = %+v", models[0])
	}
	if models[1].Details.Family != "gemma" {
		t.Errorf("second model details = %+v", models[1].Details)
	}
}

func TestListLocalModelsFallback(t *testing.T) {
	// A closed server stands in for an absent daemon.
	srv := httptest.NewServer(http.NotFoundHandler())
	daemonURL := srv.URL
	srv.Close()

	base, _ := seedStore(t)
	writeManifest(t, base, "example.com", "team", "custom", "fp16", Manifest{
		SchemaVersion: 2,
		Layers:        []Layer{{MediaType: MediaTypeModel, Digest: "sha256:reg", Size: 42}},
	})

	c := testClient(t, base, daemonURL)
	models, err := c.ListLocalModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(models), models)
	}
	// Sorted by name: the qualified registry entry first.
	if models[0].Name != "example.com/team/custom:fp16" || models[0].Size != 42 {
		t.Errorf("first = %+v", models[0])
	}
	if models[1].Name != "llama3:latest" || models[1].Size != 1234567 {
		t.Errorf("second = %+v", models[1])
	}
	if models[1].Details.Format != "gguf" {
		t.Errorf("format = %q", models[1].Details.Format)
	}
}

func TestDaemonRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[]}`)
	}))
	c := testClient(t, t.TempDir(), srv.URL)
	if !c.DaemonRunning(context.Background()) {
		t.Error("running daemon reported down")
	}
	srv.Close()
	if c.DaemonRunning(context.Background()) {
		t.Error("closed daemon reported running")
	}
}

func TestPull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/pull" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte(`"llama3"`)) {
			t.Errorf("pull body = %s", body)
		}
		io.WriteString(w, `{"status":"pulling manifest"}`+"\n")
		io.WriteString(w, `{"status":"downloading sha256:abc","completed":50,"total":100}`+"\n")
		io.WriteString(w, `{"status":"success"}`+"\n")
	}))
	defer srv.Close()

	c := testClient(t, t.TempDir(), srv.URL)
	var frames []PullProgress
	err := c.Pull(context.Background(), "llama3", func(p PullProgress) {
		frames = append(frames, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	if frames[1].Percent() != 50 {
		t.Errorf("percent = %v, want 50", frames[1].Percent())
	}
	if frames[2].Status != "success" {
		t.Errorf("last status = %q", frames[2].Status)
	}
}

func TestPullError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"pulling manifest"}`+"\n")
		io.WriteString(w, `{"error":"model not found"}`+"\n")
	}))
	defer srv.Close()

	c := testClient(t, t.TempDir(), srv.URL)
	err := c.Pull(context.Background(), "ghost", nil)
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("expected daemon error, got %v", err)
	}
}

func TestPullEmptyName(t *testing.T) {
	c := testClient(t, t.TempDir(), "")
	if err := c.Pull(context.Background(), "", nil); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestPullProgressPercentUnknownTotal(t *testing.T) {
	p := PullProgress{Status: "pulling manifest"}
	if p.Percent() != 0 {
		t.Errorf("percent = %v, want 0", p.Percent())
	}
}

func TestToModelFile(t *testing.T) {
	m := Model{
		Name: "llama3:latest",
		Size: 4661224676,
		Details: ModelDetails{
			Format:            "gguf",
			QuantizationLevel: "Q4_K_M",
		},
	}
	mf := ToModelFile(m)
	if mf.ModelID != "ollama/llama3:latest" {
		t.Errorf("model id = %q", mf.ModelID)
	}
	if mf.DownloadURL != "ollama://llama3:latest" {
		t.Errorf("download url = %q", mf.DownloadURL)
	}
	if mf.Quant.Type != "Q4_K_M" {
		t.Errorf("quant = %q", mf.Quant.Type)
	}
	if mf.Path != "llama3:latest.gguf" || mf.Size != 4661224676 {
		t.Errorf("file = %+v", mf)
	}
}

func TestToModelFileQuantFromName(t *testing.T) {
	mf := ToModelFile(Model{Name: "custom-q8_0:latest"})
	if mf.Quant.Type != "Q8_0" {
		t.Errorf("quant = %q, want Q8_0", mf.Quant.Type)
	}
}

// localBlob builds a GGUF metadata section declaring an 8-head,
// 16-layer, 1024-wide architecture.
func localBlob() []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	w32 := func(v uint32) { _ = binary.Write(&b, le, v) }
	w64 := func(v uint64) { _ = binary.Write(&b, le, v) }
	kv := func(key string, v uint32) {
		w64(uint64(len(key)))
		b.WriteString(key)
		w32(4)
		w32(v)
	}
	w32(0x46554747)
	w32(3)
	w64(0)
	w64(3)
	kv("llama.attention.head_count", 8)
	kv("llama.block_count", 16)
	kv("llama.embedding_length", 1024)
	return b.Bytes()
}

func TestLocalParams(t *testing.T) {
	base := t.TempDir()
	writeManifest(t, base, DefaultRegistry, DefaultNamespace, "tiny", "latest", Manifest{
		SchemaVersion: 2,
		Layers:        []Layer{{MediaType: MediaTypeModel, Digest: "sha256:tiny", Size: 10}},
	})
	writeBlob(t, base, "sha256:tiny", localBlob())

	c := testClient(t, base, "")
	params, err := c.LocalParams(gguf.NewMetadataReader(), "tiny")
	if err != nil {
		t.Fatal(err)
	}
	if params.AttentionHeads != 8 || params.KVHeads != 8 || params.HiddenLayers != 16 || params.HiddenSize != 1024 {
		t.Errorf("params = %+v", params)
	}
}

func TestLocalParamsMissingModel(t *testing.T) {
	c := testClient(t, t.TempDir(), "")
	if _, err := c.LocalParams(gguf.NewMetadataReader(), "ghost"); err == nil {
		t.Error("expected error for unresolvable model")
	}
}
