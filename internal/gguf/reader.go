package gguf

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/23skdu/longbow-scout/internal/logger"
	"github.com/23skdu/longbow-scout/internal/metrics"
)

// Suffixes that identify the architecture fields regardless of the
// model-family prefix in front of them.
const (
	suffixHeadCountKV = ".attention.head_count_kv"
	suffixHeadCount   = ".attention.head_count"
	suffixBlockCount  = ".block_count"
	suffixEmbedLength = ".embedding_length"
)

// DefaultFetchTimeout bounds each range request a remote scan issues.
const DefaultFetchTimeout = 30 * time.Second

// MetadataReader extracts architecture parameters from the metadata
// section of GGUF files, local or remote. It reads only as far into
// the file as the fields require.
type MetadataReader struct {
	// Client issues range requests for URL paths. Defaults to
	// http.DefaultClient.
	Client *http.Client
	// FetchTimeout bounds each individual range request.
	FetchTimeout time.Duration
	// Verbose logs every key encountered and, on incomplete scans,
	// the full key list.
	Verbose bool
}

func NewMetadataReader() *MetadataReader {
	return &MetadataReader{
		Client:       http.DefaultClient,
		FetchTimeout: DefaultFetchTimeout,
	}
}

func (r *MetadataReader) openSource(path string) (DataSource, error) {
	if IsURL(path) {
		timeout := r.FetchTimeout
		if timeout <= 0 {
			timeout = DefaultFetchTimeout
		}
		return newURLSource(path, r.Client, timeout), nil
	}
	return openFileSource(path)
}

// foundSet tracks which architecture fields a scan has captured.
type foundSet struct {
	attentionHeads bool
	kvHeads        bool
	hiddenLayers   bool
	hiddenSize     bool
}

// satisfied reports whether the scan can stop. kvHeads is not
// required: it derives from attentionHeads when absent.
func (f foundSet) satisfied() bool {
	return f.attentionHeads && f.hiddenLayers && f.hiddenSize
}

func (f foundSet) missing() []string {
	var m []string
	if !f.attentionHeads {
		m = append(m, "attention.head_count")
	}
	if !f.hiddenLayers {
		m = append(m, "block_count")
	}
	if !f.hiddenSize {
		m = append(m, "embedding_length")
	}
	return m
}

func readHeader(src DataSource) (*Header, error) {
	magic, err := readUint32(src)
	if err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: magic}
	}
	version, err := readUint32(src)
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version > MaxSupportedVersion {
		return nil, ErrUnsupportedVersion{Version: version}
	}
	tensorCount, err := readUint64(src)
	if err != nil {
		return nil, fmt.Errorf("read tensor count: %w", err)
	}
	kvCount, err := readUint64(src)
	if err != nil {
		return nil, fmt.Errorf("read metadata count: %w", err)
	}
	return &Header{
		Magic:       magic,
		Version:     version,
		TensorCount: tensorCount,
		KVCount:     kvCount,
	}, nil
}

// ReadModelParams scans path's metadata section and derives the
// parameters that size the model's KV cache. For URLs it fetches only
// the byte ranges the scan touches and aborts the transfer as soon as
// every field is found.
func (r *MetadataReader) ReadModelParams(path string) (*ModelParams, error) {
	src, err := r.openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	label := "file"
	if IsURL(path) {
		label = "url"
	}

	start := time.Now()
	params, entries, err := r.scan(src)
	metrics.RecordScan(label, scanOutcome(err), entries, time.Since(start))
	if err != nil {
		return nil, err
	}

	logger.Log.Debug("model params resolved",
		"path", path,
		"attention_heads", params.AttentionHeads,
		"kv_heads", params.KVHeads,
		"hidden_layers", params.HiddenLayers,
		"hidden_size", params.HiddenSize)
	return params, nil
}

// sizeHint caps a wire-supplied count before it is used as an
// allocation size. The slices still grow to the real count.
func sizeHint(n uint64) int {
	const limit = 1024
	if n > limit {
		return limit
	}
	return int(n)
}

func scanOutcome(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case ErrIncompleteParams:
		return "incomplete"
	default:
		return "error"
	}
}

func (r *MetadataReader) scan(src DataSource) (*ModelParams, int, error) {
	hdr, err := readHeader(src)
	if err != nil {
		return nil, 0, err
	}

	params := &ModelParams{}
	var found foundSet
	keys := make([]string, 0, sizeHint(hdr.KVCount))
	entries := 0

	for i := uint64(0); i < hdr.KVCount; i++ {
		key, err := readString(src)
		if err != nil {
			return nil, entries, fmt.Errorf("read key %d: %w", i, err)
		}
		keys = append(keys, key)

		raw, err := readUint32(src)
		if err != nil {
			return nil, entries, fmt.Errorf("read type of %q: %w", key, err)
		}
		typ := ValueType(raw)
		if typ >= typeCount {
			return nil, entries, ErrTypeOutOfRange{Type: raw}
		}
		entries++

		if r.Verbose {
			logger.Log.Debug("metadata entry", "index", i, "key", key, "type", typ.String())
		}

		matched, err := matchEntry(src, key, typ, params, &found)
		if err != nil {
			return nil, entries, fmt.Errorf("read value of %q: %w", key, err)
		}
		if !matched {
			if err := skipValue(src, typ); err != nil {
				return nil, entries, fmt.Errorf("skip value of %q: %w", key, err)
			}
		}

		if found.satisfied() {
			if u, ok := src.(*urlSource); ok {
				u.setAbort()
				metrics.ScanEarlyAborts.Inc()
			}
			break
		}
	}

	if !found.satisfied() {
		missing := found.missing()
		if r.Verbose {
			logger.Log.Warn("metadata scan incomplete",
				"missing", strings.Join(missing, ", "),
				"keys_seen", strings.Join(keys, ", "))
		}
		return nil, entries, ErrIncompleteParams{Missing: missing, Keys: keys}
	}

	if params.KVHeads == 0 {
		params.KVHeads = params.AttentionHeads
	}
	return params, entries, nil
}

// matchEntry decodes the value when key ends in one of the
// architecture suffixes and carries a compatible type. It reports
// false when the caller should skip the value instead; a wrong type
// on a matching suffix is a skip, not an error.
func matchEntry(src DataSource, key string, typ ValueType, params *ModelParams, found *foundSet) (bool, error) {
	is32 := typ == TypeUint32 || typ == TypeInt32
	is64 := typ == TypeUint64 || typ == TypeInt64

	switch {
	case strings.HasSuffix(key, suffixHeadCountKV):
		if !is32 {
			return false, nil
		}
		v, err := readUint32(src)
		if err != nil {
			return false, err
		}
		params.KVHeads = v
		found.kvHeads = true
	case strings.HasSuffix(key, suffixHeadCount):
		if !is32 {
			return false, nil
		}
		v, err := readUint32(src)
		if err != nil {
			return false, err
		}
		params.AttentionHeads = v
		found.attentionHeads = true
	case strings.HasSuffix(key, suffixBlockCount):
		if !is32 {
			return false, nil
		}
		v, err := readUint32(src)
		if err != nil {
			return false, err
		}
		params.HiddenLayers = v
		found.hiddenLayers = true
	case strings.HasSuffix(key, suffixEmbedLength):
		switch {
		case is32:
			v, err := readUint32(src)
			if err != nil {
				return false, err
			}
			params.HiddenSize = uint64(v)
		case is64:
			v, err := readUint64(src)
			if err != nil {
				return false, err
			}
			params.HiddenSize = v
		default:
			return false, nil
		}
		found.hiddenSize = true
	default:
		return false, nil
	}
	return true, nil
}

// ReadMetadata decodes every key/value entry in path's metadata
// section. Unlike ReadModelParams it materializes all values, so it
// walks the whole metadata block.
func (r *MetadataReader) ReadMetadata(path string) (*Header, []Entry, error) {
	src, err := r.openSource(path)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()

	hdr, err := readHeader(src)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Entry, 0, sizeHint(hdr.KVCount))
	for i := uint64(0); i < hdr.KVCount; i++ {
		key, err := readString(src)
		if err != nil {
			return nil, nil, fmt.Errorf("read key %d: %w", i, err)
		}
		raw, err := readUint32(src)
		if err != nil {
			return nil, nil, fmt.Errorf("read type of %q: %w", key, err)
		}
		typ := ValueType(raw)
		if typ >= typeCount {
			return nil, nil, ErrTypeOutOfRange{Type: raw}
		}
		val, err := readValue(src, typ)
		if err != nil {
			return nil, nil, fmt.Errorf("read value of %q: %w", key, err)
		}
		out = append(out, Entry{Key: key, Type: typ, Value: val})
	}
	return hdr, out, nil
}
