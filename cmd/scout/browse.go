package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/23skdu/longbow-scout/internal/cache"
	"github.com/23skdu/longbow-scout/internal/chat"
	"github.com/23skdu/longbow-scout/internal/gguf"
	"github.com/23skdu/longbow-scout/internal/hub"
	"github.com/23skdu/longbow-scout/internal/modelfile"
	"github.com/23skdu/longbow-scout/internal/ollama"
	"github.com/23skdu/longbow-scout/internal/server"
	"github.com/23skdu/longbow-scout/internal/tui"
	"github.com/rs/zerolog/log"
)

// browser holds the clients the interactive flow threads through its
// screens.
type browser struct {
	srv *server.Client
	hub *hub.Client
	est *modelfile.Estimator
	oll *ollama.Client
}

// runBrowse is the default command: browse models, pick a file, load
// it into the server, chat. A non-empty ref skips the model list and
// jumps straight to the referenced model.
func runBrowse(ref string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner()

	dir, err := cfg.CacheDir()
	if err != nil {
		return err
	}
	store, err := cache.New(dir)
	if err != nil {
		return err
	}
	if err := store.StartJanitor(cfg.CleanupInterval()); err != nil {
		return err
	}
	defer store.Close()

	srv := server.New(cfg)
	if err := ensureServer(ctx, srv); err != nil {
		return err
	}

	reader := gguf.NewMetadataReader()
	reader.FetchTimeout = cfg.ScanFetchTimeout()
	reader.Verbose = cfg.Scan.Verbose

	h := hub.New(cfg, store)
	b := &browser{
		srv: srv,
		hub: h,
		est: modelfile.NewEstimator(h, reader),
		oll: ollama.New(cfg),
	}

	if ref != "" {
		return b.open(ctx, ref)
	}
	return b.loop(ctx)
}

func (b *browser) loop(ctx context.Context) error {
	for {
		target, err := b.pickModel(ctx)
		if errors.Is(err, tui.ErrCancelled) {
			fmt.Println("Model selection cancelled.")
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}

		if target.ollama != "" {
			return b.serveOllama(ctx, target.ollama)
		}

		file, err := b.pickFile(ctx, target.hubID)
		if errors.Is(err, tui.ErrCancelled) {
			continue
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		return b.downloadAndChat(ctx, file.DisplayName(), file.DownloadURL)
	}
}

// open resolves a model reference given on the command line and runs
// the matching flow.
func (b *browser) open(ctx context.Context, ref string) error {
	r, err := classifyRef(ref)
	if err != nil {
		return err
	}
	switch r.kind {
	case refOllama:
		return b.serveOllama(ctx, r.value)
	case refLocalPath:
		return b.serveLocalFile(ctx, r.value)
	case refGGUFURL:
		fmt.Println("Direct GGUF URL:", r.value)
		if !confirm("Download this model? (y/n): ") {
			fmt.Println("Download cancelled.")
			return nil
		}
		return b.downloadAndChat(ctx, engineIDFromFilename(r.value), r.value)
	default:
		file, err := b.pickFile(ctx, r.value)
		if errors.Is(err, tui.ErrCancelled) {
			fmt.Println("Selection cancelled.")
			return nil
		}
		if err != nil {
			return err
		}
		return b.downloadAndChat(ctx, file.DisplayName(), file.DownloadURL)
	}
}

// browseTarget is one row of the model picker. Exactly one field is
// set: hubID for hub models, ollama for local ollama models.
type browseTarget struct {
	hubID  string
	ollama string
}

func (b *browser) pickModel(ctx context.Context) (browseTarget, error) {
	sp := tui.NewSpinner(os.Stdout, "Fetching models")
	sp.Start()
	models, err := b.hub.SearchModels(ctx)
	sp.Stop()
	if err != nil {
		return browseTarget{}, fmt.Errorf("fetch hub models: %w", err)
	}

	items := make([]tui.ListItem, 0, len(models))
	targets := make([]browseTarget, 0, len(models))
	for _, m := range models {
		items = append(items, tui.ListItem{Label: m.Name(), Detail: m.ID})
		targets = append(targets, browseTarget{hubID: m.ID})
	}

	// Local ollama models join the same list so everything loadable
	// shows in one place.
	if locals, err := b.oll.ListLocalModels(ctx); err == nil {
		for _, m := range locals {
			detail := "ollama · " + m.FormattedSize()
			if m.Details.QuantizationLevel != "" {
				detail += " · " + m.Details.QuantizationLevel
			}
			items = append(items, tui.ListItem{Label: m.Name, Detail: detail})
			targets = append(targets, browseTarget{ollama: m.Name})
		}
	}

	idx, err := tui.NewPicker("Select a model", items).Run(ctx)
	if err != nil {
		return browseTarget{}, err
	}
	return targets[idx], nil
}

func (b *browser) pickFile(ctx context.Context, modelID string) (modelfile.ModelFile, error) {
	sp := tui.NewSpinner(os.Stdout, "Fetching model files")
	sp.Start()
	entries, err := b.hub.ListModelFiles(ctx, modelID)
	sp.Stop()
	if err != nil {
		return modelfile.ModelFile{}, fmt.Errorf("list files for %s: %w", modelID, err)
	}

	files := modelfile.FromHubListing(b.hub, modelID, entries)
	if len(files) == 0 {
		fmt.Println("No GGUF files found in this model.")
		return modelfile.ModelFile{}, tui.ErrCancelled
	}
	b.est.EstimateAll(ctx, files, modelfile.DefaultContextSize)

	picker := tui.NewPicker("Select a file from "+modelID, fileItems(files))
	picker.OnTick = func() ([]tui.ListItem, bool) {
		if !b.est.PollAll(files) {
			return nil, false
		}
		return fileItems(files), true
	}
	idx, err := picker.Run(ctx)
	if err != nil {
		return modelfile.ModelFile{}, err
	}
	return files[idx], nil
}

func fileItems(files []modelfile.ModelFile) []tui.ListItem {
	items := make([]tui.ListItem, len(files))
	for i, f := range files {
		detail := f.Quant.Description
		if f.Size > 0 {
			detail += " · " + formatFileSize(f.Size)
		}
		items[i] = tui.ListItem{
			Label:  f.DisplayName(),
			Detail: detail,
			Extra:  memoryLine(f.Memory),
		}
	}
	return items
}

func memoryLine(u modelfile.MemoryUsage) string {
	switch {
	case u.Loading:
		return "Memory: calculating..."
	case u.HasEstimate:
		return "Memory: " + u.Display
	default:
		return ""
	}
}

// downloadAndChat registers the engine if needed, watches the download
// to completion and drops into chat.
func (b *browser) downloadAndChat(ctx context.Context, engineID, downloadURL string) error {
	exists, err := b.srv.EngineExists(ctx, engineID)
	if err != nil {
		return fmt.Errorf("check engine %s: %w", engineID, err)
	}
	if exists {
		fmt.Printf("Engine %q already exists on the server.\n", engineID)
		fmt.Println("Model is ready to use!")
		return b.runChat(ctx, engineID)
	}

	if err := b.srv.AddEngine(ctx, engineID, downloadURL, server.DefaultLoadParams()); err != nil {
		return fmt.Errorf("add engine %s: %w", engineID, err)
	}

	err = b.srv.MonitorDownload(ctx, engineID, time.Second, renderDownloadProgress(os.Stdout))
	if err != nil {
		fmt.Println()
		if ctx.Err() != nil {
			fmt.Println("Cancelling download...")
			cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cerr := b.srv.CancelDownload(cancelCtx, engineID); cerr != nil {
				log.Warn().Err(cerr).Str("model", engineID).Msg("cancel download")
			}
			return ctx.Err()
		}
		fmt.Println("Download failed.")
		return err
	}

	fmt.Println("\nModel downloaded and registered successfully!")
	return b.runChat(ctx, engineID)
}

// renderDownloadProgress writes one line per status change and redraws
// a progress bar in place while bytes are moving.
func renderDownloadProgress(w io.Writer) server.ProgressFunc {
	return func(p server.DownloadProgress) {
		switch p.Status {
		case server.DownloadNotFound:
			fmt.Fprintln(w, "Model file already exists locally. Registering engine...")
		case "downloading":
			if p.Total > 0 {
				fmt.Fprintf(w, "\r%s %.1f%% (%s/%s)", progressBar(p.Percentage, 40),
					p.Percentage, formatFileSize(p.Downloaded), formatFileSize(p.Total))
			}
		case "completing":
			fmt.Fprint(w, "\rDownload 100% complete. Processing...                                      ")
		case "processing":
			fmt.Fprint(w, "\rProcessing download. This may take a few moments...                        ")
		case "creating_engine":
			fmt.Fprint(w, "\rDownload complete. Registering engine...                                   ")
		case "engine_created":
			fmt.Fprintln(w, "\nEngine registered successfully.")
		}
	}
}

func (b *browser) runChat(ctx context.Context, engineID string) error {
	return chat.NewSession(b.srv, engineID, server.ChatOptionsFrom(cfg)).Run(ctx)
}

// serveOllama loads a local ollama model into the server by pointing
// the engine straight at the resolved blob.
func (b *browser) serveOllama(ctx context.Context, name string) error {
	exists, err := b.srv.EngineExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check engine %s: %w", name, err)
	}
	if exists {
		fmt.Printf("Engine %q already exists on the server.\n", name)
		return b.runChat(ctx, name)
	}

	path, err := b.oll.ResolveModelPath(name)
	if err != nil {
		return fmt.Errorf("resolve ollama model %s: %w", name, err)
	}
	if err := b.srv.AddEngine(ctx, name, path, server.DefaultLoadParams()); err != nil {
		return fmt.Errorf("add engine %s: %w", name, err)
	}
	fmt.Printf("Engine %q registered from local ollama store.\n", name)
	return b.runChat(ctx, name)
}

func (b *browser) serveLocalFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("model file %s: %w", path, err)
	}
	if info.IsDir() || !strings.EqualFold(filepath.Ext(abs), ".gguf") {
		return fmt.Errorf("%s is not a .gguf model file", path)
	}

	fmt.Printf("Local model: %s (%s)\n", abs, formatFileSize(info.Size()))
	if !confirm("Add this model to the server? (y/n): ") {
		fmt.Println("Model loading cancelled.")
		return nil
	}
	return b.downloadAndChat(ctx, engineIDFromFilename(abs), abs)
}

// ensureServer checks server health and starts the binary when nothing
// answers.
func ensureServer(ctx context.Context, srv *server.Client) error {
	if srv.Healthy(ctx) {
		fmt.Println("Inference server is already running.")
		return nil
	}

	fmt.Println("Inference server is not running.")
	if err := srv.StartServer(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	sp := tui.NewSpinner(os.Stdout, "Starting inference server")
	sp.Start()
	err := srv.WaitForReady(ctx, cfg.StartupTimeout())
	sp.Stop()
	if err != nil {
		return fmt.Errorf("server did not become ready: %w", err)
	}
	fmt.Println("Inference server is ready.")
	return nil
}

type refKind int

const (
	refHubID refKind = iota
	refGGUFURL
	refLocalPath
	refOllama
)

// modelRef is a classified command line model reference.
type modelRef struct {
	kind  refKind
	value string
}

var (
	hubURLPattern  = regexp.MustCompile(`^https?://huggingface\.co/([^/]+/[^/?#]+)`)
	modelIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)
)

// classifyRef decides what kind of model reference the user passed.
// Anything ending in .gguf is a file, so "models/llama.gguf" is a
// local path rather than a hub ID.
func classifyRef(input string) (modelRef, error) {
	ref := strings.TrimSpace(input)
	if ref == "" {
		return modelRef{}, errors.New("empty model reference")
	}
	if ollama.IsRef(ref) {
		return modelRef{kind: refOllama, value: ollama.TrimRef(ref)}, nil
	}

	if strings.HasSuffix(strings.ToLower(ref), ".gguf") {
		if gguf.IsURL(ref) {
			return modelRef{kind: refGGUFURL, value: ref}, nil
		}
		return modelRef{kind: refLocalPath, value: ref}, nil
	}

	if gguf.IsURL(ref) {
		if m := hubURLPattern.FindStringSubmatch(ref); m != nil {
			return modelRef{kind: refHubID, value: m[1]}, nil
		}
		return modelRef{}, fmt.Errorf("unsupported model URL %q", input)
	}

	if modelIDPattern.MatchString(ref) {
		return modelRef{kind: refHubID, value: ref}, nil
	}
	return modelRef{}, fmt.Errorf("unrecognized model reference %q\n\nAccepted forms:\n"+
		"  owner/model                         Hugging Face model ID\n"+
		"  https://huggingface.co/owner/model  Hugging Face URL\n"+
		"  https://host/path/model.gguf        direct GGUF download\n"+
		"  path/to/model.gguf                  local GGUF file\n"+
		"  ollama://name:tag                   local ollama model", input)
}

// engineIDFromFilename derives an engine ID from the final path
// segment with its extension cut off. Case is preserved.
func engineIDFromFilename(path string) string {
	base := filepath.Base(path)
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

var bannerLines = []string{
	` ____    ____   ___   _   _  _____`,
	`/ ___|  / ___| / _ \ | | | ||_   _|`,
	`\___ \ | |    | | | || | | |  | |`,
	` ___) || |___ | |_| || |_| |  | |`,
	`|____/  \____| \___/  \___/   |_|`,
}

var bannerColors = []int{51, 45, 39, 33, 93}

func printBanner() {
	for i, line := range bannerLines {
		fmt.Printf("\033[38;5;%dm%s\033[0m\n", bannerColors[i], line)
	}
	fmt.Printf("\033[90mGGUF model scout %s\033[0m\n\n", version)
}
