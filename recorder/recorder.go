package recorder

import (
	"fmt"
	"sync"

	"github.com/user/dictofun-sync/fts"
	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/wire"
	"github.com/user/dictofun-sync/wire/att"
	"github.com/user/dictofun-sync/wire/gatt"
)

// DefaultName is what the recorder advertises
const DefaultName = "dictofun"

// Options configure the emulated firmware, including faults for tests
type Options struct {
	Name   string
	MaxMTU int

	// Omit leaves characteristics out of the attribute table
	Omit []fts.Characteristic

	// FailCCCD rejects subscription writes for these characteristics
	FailCCCD []fts.Characteristic

	// DropAfterBytes closes the link once, after this many file bytes (0: never)
	DropAfterBytes int

	// ChunkSize caps each file data notification below MTU-3 (0: no cap)
	ChunkSize int
}

// Recorder emulates the recorder's file transfer service on the simulated radio
type Recorder struct {
	id      string
	opts    Options
	w       *wire.Wire
	table   *gatt.Table
	handles map[fts.Characteristic]uint16

	mu      sync.Mutex
	files   [][]byte
	cursor  int
	current int
	sent    int
	dropped bool
	served  int
}

// New creates a recorder holding files
func New(id string, files [][]byte, opts Options) *Recorder {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.MaxMTU == 0 {
		opts.MaxMTU = 247
	}

	r := &Recorder{
		id:      id,
		opts:    opts,
		w:       wire.NewWire(id),
		files:   files,
		current: -1,
	}
	r.table, r.handles = buildTable(opts.Omit)
	return r
}

func buildTable(omit []fts.Characteristic) (*gatt.Table, map[fts.Characteristic]uint16) {
	skip := make(map[fts.Characteristic]bool)
	for _, c := range omit {
		skip[c] = true
	}

	b := gatt.NewBuilder().AddService(fts.ServiceUUID.String())
	for _, c := range fts.AllCharacteristics() {
		if skip[c] {
			continue
		}
		if c == fts.CommandOut {
			b.AddCharacteristic(c.UUID().String(), gatt.PropWrite, gatt.PropWriteWithoutResponse)
		} else {
			b.AddCharacteristic(c.UUID().String(), gatt.PropNotify)
		}
	}
	table := b.Build()

	handles := make(map[fts.Characteristic]uint16)
	for _, c := range fts.AllCharacteristics() {
		if ch, ok := table.FindCharacteristic(c.UUID().String()); ok {
			handles[c] = ch.ValueHandle
		}
	}
	return table, handles
}

func (r *Recorder) tag() string {
	return logger.Tag(r.id, "Recorder")
}

// ID returns the recorder's radio address
func (r *Recorder) ID() string { return r.id }

// Start publishes the attribute table and advertising data and begins accepting
func (r *Recorder) Start() error {
	r.w.SetMaxMTU(r.opts.MaxMTU)
	r.w.OnAccept(func(c *wire.Conn) wire.PacketHandler {
		logger.Info(r.tag(), "🔗 Central %s connected", c.Peer())
		return r.handle
	})

	if err := r.w.PublishTable(r.table); err != nil {
		return err
	}
	if err := r.w.PublishAdvertisement(wire.Advertisement{
		Name:         r.opts.Name,
		ServiceUUIDs: []string{fts.ServiceUUID.String()},
	}); err != nil {
		return err
	}
	if err := r.w.Start(); err != nil {
		return err
	}

	logger.Info(r.tag(), "🎙️  Recorder %q up with %d files", r.opts.Name, r.FileCount())
	return nil
}

// Stop shuts the radio down
func (r *Recorder) Stop() {
	r.w.Stop()
}

// AddFile appends a recording
func (r *Recorder) AddFile(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, data)
}

// FileCount returns how many recordings the recorder holds
func (r *Recorder) FileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// Served returns how many files were streamed completely
func (r *Recorder) Served() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.served
}

// handle runs on the connection's read goroutine
func (r *Recorder) handle(c *wire.Conn, packet interface{}) {
	switch p := packet.(type) {
	case *att.WriteRequest:
		if ch, ok := r.table.ByCCCDHandle(p.Handle); ok {
			r.writeCCCD(c, ch, p)
			return
		}
		if p.Handle == r.handles[fts.CommandOut] && p.Handle != 0 {
			c.Send(&att.WriteResponse{})
			r.onCommand(c, p.Value)
			return
		}
		c.Send(&att.ErrorResponse{RequestOpcode: att.OpWriteRequest, Handle: p.Handle, ErrorCode: att.ErrInvalidHandle})
	case *att.WriteCommand:
		if p.Handle == r.handles[fts.CommandOut] && p.Handle != 0 {
			r.onCommand(c, p.Value)
		}
	}
}

func (r *Recorder) writeCCCD(c *wire.Conn, ch *gatt.Characteristic, p *att.WriteRequest) {
	char, _ := fts.CharacteristicFromUUID(ch.UUID)
	for _, failing := range r.opts.FailCCCD {
		if failing == char {
			logger.Warn(r.tag(), "❌ Rejecting subscription to %s", char)
			c.Send(&att.ErrorResponse{RequestOpcode: att.OpWriteRequest, Handle: p.Handle, ErrorCode: att.ErrWriteNotPermitted})
			return
		}
	}

	if err := c.CCCD().SetSubscription(ch.ValueHandle, p.Value); err != nil {
		c.Send(&att.ErrorResponse{RequestOpcode: att.OpWriteRequest, Handle: p.Handle, ErrorCode: att.ErrInvalidAttributeValueLength})
		return
	}
	logger.Debug(r.tag(), "📥 %s subscribed to %s", c.Peer(), char)
	c.Send(&att.WriteResponse{})
}

func (r *Recorder) onCommand(c *wire.Conn, value []byte) {
	cmd, err := fts.DecodeCommand(value)
	if err != nil {
		logger.Warn(r.tag(), "⚠️  %v", err)
		return
	}
	logger.Debug(r.tag(), "📥 %s", cmd)

	switch cmd {
	case fts.CommandGetFilesystemInfo:
		r.mu.Lock()
		r.cursor = 0
		r.current = -1
		count := len(r.files)
		r.mu.Unlock()
		r.notify(c, fts.FilesystemInfoNotify, fts.EncodeLength(fts.StatusTagOK, uint32(count)))

	case fts.CommandGetFileInfo:
		r.mu.Lock()
		size := 0
		if r.cursor < len(r.files) {
			r.current = r.cursor
			size = len(r.files[r.cursor])
			r.cursor++
		} else {
			r.current = -1
		}
		r.mu.Unlock()
		r.notify(c, fts.FileInfoNotify, fts.EncodeLength(fts.StatusTagOK, uint32(size)))

	case fts.CommandGetFile:
		r.sendFile(c)
	}
}

func (r *Recorder) sendFile(c *wire.Conn) {
	r.mu.Lock()
	if r.current < 0 {
		r.mu.Unlock()
		logger.Warn(r.tag(), "⚠️  GetFile without a selected file")
		return
	}
	data := r.files[r.current]
	r.mu.Unlock()

	size := c.MTU() - att.NotificationOverhead
	if r.opts.ChunkSize > 0 && r.opts.ChunkSize < size {
		size = r.opts.ChunkSize
	}

	for _, chunk := range SplitChunks(data, size) {
		if r.shouldDrop(len(chunk)) {
			logger.Warn(r.tag(), "💥 Dropping link mid-file")
			c.Close()
			return
		}
		if !r.notify(c, fts.FileDataNotify, chunk) {
			return
		}
	}

	r.mu.Lock()
	r.served++
	r.mu.Unlock()
	logger.Info(r.tag(), "📤 Sent file of %d bytes (crc32=%08x)", len(data), Checksum(data))
}

func (r *Recorder) shouldDrop(next int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.DropAfterBytes <= 0 || r.dropped {
		return false
	}
	if r.sent+next > r.opts.DropAfterBytes {
		r.dropped = true
		return true
	}
	r.sent += next
	return false
}

// notify sends on c when the central subscribed to char
func (r *Recorder) notify(c *wire.Conn, char fts.Characteristic, value []byte) bool {
	handle := r.handles[char]
	if handle == 0 || !c.CCCD().IsNotifyEnabled(handle) {
		logger.Debug(r.tag(), "⚠️  %s not subscribed, dropping notification", char)
		return false
	}
	if err := c.Notify(handle, value); err != nil {
		logger.Warn(r.tag(), "❌ %v", fmt.Errorf("notify %s: %w", char, err))
		return false
	}
	return true
}
