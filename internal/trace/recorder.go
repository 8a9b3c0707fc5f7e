// Package trace records frames crossing topology links to pcap and ASCII
// trace files. Recording is purely additive: attaching a Recorder never
// changes the topology.
package trace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/internal/logging"
	"github.com/signalsfoundry/substation-sim/model"
)

var (
	ErrUnknownLink = errors.New("unknown link")
	ErrNotEndpoint = errors.New("node is not a link endpoint")
	ErrClosed      = errors.New("recorder closed")
)

const defaultSnapLen = 65535

// Options selects which traces are written and where.
type Options struct {
	Pcap  bool // per node/link pcap files
	Ascii bool // one ASCII event log
	Radio bool // also record radio links

	Dir    string // output directory, created on first write
	Prefix string // file name prefix

	SnapLen uint32
	// Epoch anchors simulated offsets to wall-clock pcap timestamps.
	Epoch time.Time
}

// Enabled reports whether any trace output is requested.
func (o Options) Enabled() bool { return o.Pcap || o.Ascii }

// Sink receives frames seen by one node on one link.
type Sink interface {
	Write(at time.Duration, frame []byte) error
}

type noopSink struct{}

func (noopSink) Write(time.Duration, []byte) error { return nil }

// Recorder owns the trace files of one scenario run. It is safe for
// concurrent use.
type Recorder struct {
	opts  Options
	links []model.Link
	names map[model.NodeID]string
	log   logging.Logger

	mu     sync.Mutex
	pcaps  map[endpoint]*pcapFile
	ascii  *asciiFile
	closed bool
}

type endpoint struct {
	link int
	node model.NodeID
}

type pcapFile struct {
	path string
	f    *os.File
	buf  *bufio.Writer
	w    *pcapgo.Writer
}

type asciiFile struct {
	path string
	f    *os.File
	buf  *bufio.Writer
}

// Attach prepares a Recorder for topo. No file is opened until a sink
// first receives a frame.
func Attach(ctx context.Context, topo *core.Topology, opts Options) *Recorder {
	if opts.Prefix == "" {
		opts.Prefix = topo.Shape()
	}
	if opts.SnapLen == 0 {
		opts.SnapLen = defaultSnapLen
	}
	if opts.Epoch.IsZero() {
		opts.Epoch = time.Unix(0, 0).UTC()
	}
	names := make(map[model.NodeID]string, len(topo.Nodes()))
	for _, n := range topo.Nodes() {
		names[n.ID] = n.Name
	}
	log := logging.FromContext(ctx)
	log.Debug(ctx, "trace recorder attached",
		logging.Bool("pcap", opts.Pcap),
		logging.Bool("ascii", opts.Ascii),
		logging.Bool("radio", opts.Radio),
		logging.String("dir", opts.Dir),
		logging.String("prefix", opts.Prefix),
	)
	return &Recorder{
		opts:  opts,
		links: topo.Links(),
		names: names,
		log:   log,
		pcaps: make(map[endpoint]*pcapFile),
	}
}

// Sink returns the record-on-write hook for node on link. Links and
// traces that are not enabled yield a sink that drops frames.
func (r *Recorder) Sink(linkID int, node model.NodeID) (Sink, error) {
	if linkID < 0 || linkID >= len(r.links) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLink, linkID)
	}
	l := r.links[linkID]
	if _, ok := l.Other(node); !ok {
		return nil, fmt.Errorf("%w: %s on link %d", ErrNotEndpoint, node, linkID)
	}
	if !r.opts.Enabled() || (!l.Kind.Wired() && !r.opts.Radio) {
		return noopSink{}, nil
	}
	return &sink{r: r, link: l, node: node}, nil
}

type sink struct {
	r    *Recorder
	link model.Link
	node model.NodeID
}

func (s *sink) Write(at time.Duration, frame []byte) error {
	return s.r.record(s.link, s.node, at, frame)
}

func (r *Recorder) record(l model.Link, node model.NodeID, at time.Duration, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	if r.opts.Pcap {
		pf, err := r.pcapLocked(l, node)
		if err != nil {
			return err
		}
		n := len(frame)
		capLen := n
		if capLen > int(r.opts.SnapLen) {
			capLen = int(r.opts.SnapLen)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     r.opts.Epoch.Add(at),
			CaptureLength: capLen,
			Length:        n,
		}
		if err := pf.w.WritePacket(ci, frame[:capLen]); err != nil {
			return fmt.Errorf("write %s: %w", pf.path, err)
		}
	}
	if r.opts.Ascii {
		af, err := r.asciiLocked()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(af.buf, "r %.9f %s link%d %s %d\n",
			at.Seconds(), r.names[node], l.ID, l.Kind, len(frame)); err != nil {
			return fmt.Errorf("write %s: %w", af.path, err)
		}
	}
	return nil
}

func (r *Recorder) pcapLocked(l model.Link, node model.NodeID) (*pcapFile, error) {
	key := endpoint{link: l.ID, node: node}
	if pf, ok := r.pcaps[key]; ok {
		return pf, nil
	}
	path := filepath.Join(r.opts.Dir, fmt.Sprintf("%s-%s-%d.pcap", r.opts.Prefix, r.names[node], l.ID))
	f, err := r.create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(r.opts.SnapLen, linkType(l.Kind)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pcap header %s: %w", path, err)
	}
	pf := &pcapFile{path: path, f: f, buf: buf, w: w}
	r.pcaps[key] = pf
	r.log.Debug(context.Background(), "pcap trace opened", logging.String("path", path))
	return pf, nil
}

func (r *Recorder) asciiLocked() (*asciiFile, error) {
	if r.ascii != nil {
		return r.ascii, nil
	}
	path := filepath.Join(r.opts.Dir, r.opts.Prefix+".tr")
	f, err := r.create(path)
	if err != nil {
		return nil, err
	}
	r.ascii = &asciiFile{path: path, f: f, buf: bufio.NewWriter(f)}
	r.log.Debug(context.Background(), "ascii trace opened", logging.String("path", path))
	return r.ascii, nil
}

func (r *Recorder) create(path string) (*os.File, error) {
	if r.opts.Dir != "" {
		if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create trace dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	return f, nil
}

// Files lists the trace files opened so far, sorted.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, pf := range r.pcaps {
		out = append(out, pf.path)
	}
	if r.ascii != nil {
		out = append(out, r.ascii.path)
	}
	sort.Strings(out)
	return out
}

// Close flushes and closes every open trace file. Later writes fail with
// ErrClosed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, pf := range r.pcaps {
		errs = append(errs, flushClose(pf.buf, pf.f))
	}
	if r.ascii != nil {
		errs = append(errs, flushClose(r.ascii.buf, r.ascii.f))
	}
	return errors.Join(errs...)
}

func flushClose(buf *bufio.Writer, f *os.File) error {
	ferr := buf.Flush()
	cerr := f.Close()
	if ferr != nil {
		return fmt.Errorf("flush %s: %w", f.Name(), ferr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", f.Name(), cerr)
	}
	return nil
}

func linkType(kind model.LinkKind) layers.LinkType {
	if kind.Wired() {
		return layers.LinkTypePPP
	}
	return layers.LinkTypeRaw
}
