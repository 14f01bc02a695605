package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

// ErrCancelled is returned when the user backs out of a picker.
var ErrCancelled = errors.New("selection cancelled")

const (
	// reservedRows is the screen estate taken by the title,
	// instructions, search bar and selection footer.
	reservedRows   = 10
	updateInterval = 200 * time.Millisecond
	escDelay       = 50 * time.Millisecond
)

// ListItem is one selectable row. Detail is rendered dimmed after the
// label; Extra, when set, becomes an indented second line.
type ListItem struct {
	Label  string
	Detail string
	Extra  string
}

// Picker is an arrow-key list with incremental search. On a terminal
// it runs raw-mode and full-screen; otherwise it degrades to a
// numbered prompt.
//
// OnTick, when set, is polled while the picker is idle; returning
// changed=true swaps in the new items and redraws. Pickers use it to
// fill in memory estimates as they finish.
type Picker struct {
	Title  string
	OnTick func() (items []ListItem, changed bool)

	items    []ListItem
	filtered []int
	query    string
	selected int
	top      int

	searchMode bool

	in    io.Reader
	out   io.Writer
	rawFd int
	isTTY bool
	rows  int
}

func NewPicker(title string, items []ListItem) *Picker {
	p := &Picker{
		Title: title,
		items: items,
		in:    os.Stdin,
		out:   os.Stdout,
		rawFd: int(os.Stdin.Fd()),
		rows:  24,
	}
	p.isTTY = term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
	if p.isTTY {
		if _, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil && rows > 0 {
			p.rows = rows
		}
	}
	return p
}

// Run shows the picker and returns the index of the chosen item.
func (p *Picker) Run(ctx context.Context) (int, error) {
	if len(p.items) == 0 {
		fmt.Fprintln(p.out, "No models available.")
		return -1, ErrCancelled
	}
	if !p.isTTY {
		return p.runNumbered()
	}
	return p.runInteractive(ctx)
}

func (p *Picker) runNumbered() (int, error) {
	fmt.Fprintln(p.out, p.Title)
	fmt.Fprintln(p.out)
	for i, it := range p.items {
		fmt.Fprintf(p.out, "%3d. %s", i+1, it.Label)
		if it.Detail != "" {
			fmt.Fprintf(p.out, "  %s", it.Detail)
		}
		fmt.Fprintln(p.out)
		if it.Extra != "" {
			fmt.Fprintf(p.out, "     %s\n", it.Extra)
		}
	}

	scanner := bufio.NewScanner(p.in)
	for {
		fmt.Fprintf(p.out, "\nSelect [1-%d] (empty to cancel): ", len(p.items))
		if !scanner.Scan() {
			return -1, ErrCancelled
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return -1, ErrCancelled
		}
		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(p.items) {
			fmt.Fprintf(p.out, "Enter a number between 1 and %d.\n", len(p.items))
			continue
		}
		return n - 1, nil
	}
}

func (p *Picker) runInteractive(ctx context.Context) (int, error) {
	if p.rawFd >= 0 {
		old, err := term.MakeRaw(p.rawFd)
		if err != nil {
			return p.runNumbered()
		}
		defer term.Restore(p.rawFd, old)
	}

	fmt.Fprint(p.out, "\033[?25l")
	defer fmt.Fprint(p.out, "\033[?25h\033[2J\033[H")

	p.applyFilter()

	keys := make(chan byte, 16)
	done := make(chan struct{})
	defer close(done)
	go p.readKeys(keys, done)

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	p.render()
	for {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
			if p.OnTick == nil {
				continue
			}
			if items, changed := p.OnTick(); changed {
				p.setItems(items)
				p.render()
			}
		case b, ok := <-keys:
			if !ok {
				return -1, ErrCancelled
			}
			idx, chosen, quit := p.handleKey(b, keys)
			if quit {
				return -1, ErrCancelled
			}
			if chosen {
				return idx, nil
			}
			p.render()
		}
	}
}

func (p *Picker) readKeys(keys chan<- byte, done <-chan struct{}) {
	defer close(keys)
	buf := make([]byte, 1)
	for {
		n, err := p.in.Read(buf)
		if n > 0 {
			select {
			case keys <- buf[0]:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// handleKey processes one key, reading ahead on the channel for arrow
// escape sequences. It reports the chosen index, whether a choice was
// made, and whether the picker should quit.
func (p *Picker) handleKey(b byte, keys <-chan byte) (int, bool, bool) {
	switch b {
	case 27:
		var b2 byte
		got := false
		select {
		case x, ok := <-keys:
			if ok {
				b2, got = x, true
			}
		case <-time.After(escDelay):
		}
		if got && b2 == '[' {
			select {
			case b3, ok := <-keys:
				if ok {
					switch b3 {
					case 'A':
						p.moveUp()
					case 'B':
						p.moveDown()
					}
				}
			case <-time.After(escDelay):
			}
			return -1, false, false
		}
		if p.searchMode {
			p.searchMode = false
			return -1, false, false
		}
		return -1, false, true

	case '\r', '\n':
		if p.searchMode {
			p.searchMode = false
			return -1, false, false
		}
		if len(p.filtered) > 0 {
			return p.filtered[p.selected], true, false
		}

	case 3: // Ctrl+C
		return -1, false, true

	case 8, 127: // Backspace
		if p.query == "" {
			break
		}
		if p.searchMode {
			p.query = p.query[:len(p.query)-1]
		} else {
			p.query = ""
		}
		p.applyFilter()

	case '/':
		p.searchMode = true

	default:
		if p.searchMode && b >= 32 && b <= 126 {
			p.query += string(b)
			p.applyFilter()
		}
	}
	return -1, false, false
}

func (p *Picker) moveUp() {
	if p.searchMode {
		return
	}
	if len(p.filtered) == 0 || p.selected == 0 {
		// Past the top of the list the cursor lands on the
		// search bar.
		p.searchMode = true
		return
	}
	p.selected--
}

func (p *Picker) moveDown() {
	if p.searchMode {
		p.searchMode = false
		if len(p.filtered) > 0 {
			p.selected = 0
		}
		return
	}
	if p.selected < len(p.filtered)-1 {
		p.selected++
	}
}

func (p *Picker) applyFilter() {
	p.filtered = p.filtered[:0]
	p.selected = 0
	p.top = 0
	q := strings.ToLower(p.query)
	for i, it := range p.items {
		if q == "" || strings.Contains(strings.ToLower(it.Label+" "+it.Detail), q) {
			p.filtered = append(p.filtered, i)
		}
	}
}

// setItems swaps the item set while keeping the search query and, when
// no search is active, the cursor position.
func (p *Picker) setItems(items []ListItem) {
	p.items = items
	if p.query != "" {
		p.applyFilter()
	} else {
		p.filtered = p.filtered[:0]
		for i := range p.items {
			p.filtered = append(p.filtered, i)
		}
	}
	if p.selected >= len(p.filtered) && len(p.filtered) > 0 {
		p.selected = len(p.filtered) - 1
	}
}

// pageSize estimates how many items fit, sampling the filtered set for
// two-line entries.
func (p *Picker) pageSize() int {
	if p.isTTY {
		if _, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil && rows > 0 {
			p.rows = rows
		}
	}
	avail := p.rows - reservedRows
	if avail <= 3 {
		return 2
	}
	if len(p.filtered) == 0 {
		return avail / 2
	}
	sample := len(p.filtered)
	if sample > 5 {
		sample = 5
	}
	lines := 0
	for _, idx := range p.filtered[:sample] {
		if p.items[idx].Extra != "" {
			lines += 2
		} else {
			lines++
		}
	}
	size := avail * sample / lines
	if size < 2 {
		return 2
	}
	return size
}

func (p *Picker) render() {
	page := p.pageSize()
	p.updateViewport(page)

	var b strings.Builder
	b.WriteString("\033[2J\033[H")
	b.WriteString(p.Title + "\r\n")
	b.WriteString("Use UP/DOWN arrows to navigate, ENTER to select, ESC or Ctrl+C to exit\r\n")
	b.WriteString("Press '/' to search, BACKSPACE to clear search\r\n\r\n")

	switch {
	case p.searchMode:
		fmt.Fprintf(&b, "\033[42;97mSearch: %s_\033[0m\r\n", p.query)
	case p.query != "":
		fmt.Fprintf(&b, "Search: %s\033[90m (Press '/' to edit)\033[0m\r\n", p.query)
	default:
		b.WriteString("Search: \033[90m(Press '/' to search)\033[0m\r\n")
	}
	b.WriteString("\r\n")

	if len(p.filtered) == 0 {
		if p.query == "" {
			b.WriteString("No models available.\r\n")
		} else {
			fmt.Fprintf(&b, "No models found matching: %q\r\n", p.query)
		}
		fmt.Fprint(p.out, b.String())
		return
	}

	end := p.top + page
	if end > len(p.filtered) {
		end = len(p.filtered)
	}
	if p.top > 0 {
		fmt.Fprintf(&b, "\033[90m  ... %d more above\033[0m\r\n", p.top)
	}
	for i := p.top; i < end; i++ {
		it := p.items[p.filtered[i]]
		if i == p.selected {
			fmt.Fprintf(&b, "\033[44;97m> %-50s\033[0m", it.Label)
		} else {
			fmt.Fprintf(&b, "  %-50s", it.Label)
		}
		if it.Detail != "" {
			fmt.Fprintf(&b, " \033[90m%s\033[0m", it.Detail)
		}
		b.WriteString("\r\n")
		if it.Extra != "" {
			if i == p.selected {
				fmt.Fprintf(&b, "    \033[92m%s\033[0m\r\n", it.Extra)
			} else {
				fmt.Fprintf(&b, "    \033[90m%s\033[0m\r\n", it.Extra)
			}
		}
	}
	if end < len(p.filtered) {
		fmt.Fprintf(&b, "\033[90m  ... %d more below\033[0m\r\n", len(p.filtered)-end)
	}

	sel := p.items[p.filtered[p.selected]]
	fmt.Fprintf(&b, "\r\nSelected: %s (%d/%d)", sel.Label, p.selected+1, len(p.filtered))
	if p.query != "" {
		fmt.Fprintf(&b, " | Filtered from %d total", len(p.items))
	}
	b.WriteString("\r\n")

	fmt.Fprint(p.out, b.String())
}

func (p *Picker) updateViewport(page int) {
	if p.selected < p.top {
		p.top = p.selected
	} else if p.selected >= p.top+page {
		p.top = p.selected - page + 1
	}
	if p.top+page > len(p.filtered) {
		if len(p.filtered) >= page {
			p.top = len(p.filtered) - page
		} else {
			p.top = 0
		}
	}
}
