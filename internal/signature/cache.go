package signature

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

const (
	indexCacheSize  = 50_000
	writeChanCap    = 1024
	writeBatchMax   = 256
	writeFlushEvery = time.Second
	scanBackDays    = 3
)

// diskRecord is the JSON shape written to a date's .jsonl data file.
type diskRecord struct {
	Signature  string    `json:"signature"`
	Reasoning  string    `json:"reasoning,omitempty"`
	RequestID  string    `json:"request_id"`
	ToolCallID string    `json:"tool_call_id"`
	IsImageKey bool      `json:"is_image_key,omitempty"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// idxLine is the JSON shape written to a date's .idx file.
type idxLine struct {
	K string `json:"k"`
	O int64  `json:"o"`
	L int    `json:"l"`
}

// Cache is the Signature Cache described in §4.3.
type Cache struct {
	dir string

	hotMu     sync.RWMutex
	hot       map[string]*Entry
	toolToKey map[string]string

	byKey  *lru.Cache
	byTool *lru.Cache

	readerMu sync.Mutex
	readers  map[string]map[string]offsetLen // date -> key -> location

	writeCh chan *Entry

	fileMu      sync.Mutex
	currentDate string
	dataFile    *os.File
	idxFile     *os.File
	dataOffset  int64

	retentionDays int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type offsetLen struct {
	Offset int64
	Length int
}

// New constructs a Cache rooted at dataDir/signatures. Call Start to load the
// recent index and launch the background writer; call Stop for a graceful
// shutdown that drains the channel.
func New(dataDir string, retentionDays int) (*Cache, error) {
	dir := filepath.Join(dataDir, "signatures")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("signature: create cache dir: %w", err)
	}
	byKey, err := lru.New(indexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("signature: create index cache: %w", err)
	}
	byTool, err := lru.New(indexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("signature: create tool index cache: %w", err)
	}
	if retentionDays < 2 {
		retentionDays = 2
	}
	return &Cache{
		dir:           dir,
		hot:           make(map[string]*Entry),
		toolToKey:     make(map[string]string),
		byKey:         byKey,
		byTool:        byTool,
		readers:       make(map[string]map[string]offsetLen),
		writeCh:       make(chan *Entry, writeChanCap),
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start scans the last few days of .idx files into the index cache
// (best-effort; malformed lines are skipped) and launches the writer.
func (c *Cache) Start() {
	c.loadRecentIndex()
	go c.writerLoop()
}

// Stop signals the writer to flush and exit, and waits for it to finish.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

func (c *Cache) loadRecentIndex() {
	now := time.Now().UTC()
	for i := 0; i < scanBackDays; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		c.loadIndexForDate(date)
	}
}

func (c *Cache) loadIndexForDate(date string) {
	path := filepath.Join(c.dir, date+".idx")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var line idxLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		reqID, toolID, ok := splitKey(line.K)
		if !ok {
			continue
		}
		rec := &indexRecord{
			Date:       date,
			RequestID:  reqID,
			ToolCallID: toolID,
			Offset:     line.O,
			Length:     line.L,
			CreatedAt:  time.Now(),
			LastAccess: time.Now(),
		}
		c.byKey.Add(line.K, rec)
		c.byTool.Add(toolID, line.K)
	}
}

func splitKey(k string) (requestID, toolCallID string, ok bool) {
	for i := 0; i < len(k); i++ {
		if k[i] == ':' {
			return k[:i], k[i+1:], true
		}
	}
	return "", "", false
}

// Save inserts the entry into the hot map and enqueues it for persistence.
// The caller is blocked if the write channel is full (capacity 1024) — the
// spec treats this as acceptable backpressure since losing a signature
// breaks a later turn.
func (c *Cache) Save(requestID, toolCallID, sig, reasoning, model string) {
	c.SaveImage(requestID, toolCallID, sig, reasoning, model, false)
}

// SaveImage is Save with an explicit is_image_key flag, used when the key is
// derived from a base64 image prefix rather than a tool-call id.
func (c *Cache) SaveImage(requestID, toolCallID, sig, reasoning, model string, isImageKey bool) {
	now := time.Now()
	entry := &Entry{
		Signature:  sig,
		Reasoning:  reasoning,
		RequestID:  requestID,
		ToolCallID: toolCallID,
		IsImageKey: isImageKey,
		Model:      model,
		CreatedAt:  now,
		LastAccess: now,
	}
	k := key(requestID, toolCallID)

	c.hotMu.Lock()
	c.hot[k] = entry
	c.toolToKey[toolCallID] = k
	c.hotMu.Unlock()

	c.writeCh <- entry
}

// Lookup returns the entry for (requestID, toolCallID), falling back to a
// tool-call-id-only lookup, then to the fallback signature if the index
// knows the key but the payload cannot be read.
func (c *Cache) Lookup(requestID, toolCallID string) (Entry, bool) {
	k := key(requestID, toolCallID)
	if e, ok := c.lookupHot(k); ok {
		return e, true
	}
	if rec, ok := c.byKey.Get(k); ok {
		return c.resolveFromDisk(rec.(*indexRecord))
	}
	return c.LookupByToolCallID(toolCallID)
}

// LookupByToolCallID looks up an entry by tool-call id alone, for dialects
// that only echo the tool id and drop the originating request id.
func (c *Cache) LookupByToolCallID(toolCallID string) (Entry, bool) {
	c.hotMu.RLock()
	if k, ok := c.toolToKey[toolCallID]; ok {
		if e, ok := c.hot[k]; ok {
			c.hotMu.RUnlock()
			return *e, true
		}
	}
	c.hotMu.RUnlock()

	kIface, ok := c.byTool.Get(toolCallID)
	if !ok {
		return Entry{}, false
	}
	k := kIface.(string)
	recIface, ok := c.byKey.Get(k)
	if !ok {
		return Entry{}, false
	}
	return c.resolveFromDisk(recIface.(*indexRecord))
}

func (c *Cache) lookupHot(k string) (Entry, bool) {
	c.hotMu.RLock()
	defer c.hotMu.RUnlock()
	e, ok := c.hot[k]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (c *Cache) resolveFromDisk(rec *indexRecord) (Entry, bool) {
	rec.LastAccess = time.Now()
	data, err := c.readRecord(rec)
	if err != nil {
		log.WithError(err).Warnf("signature: read record for %s:%s failed, returning fallback", rec.RequestID, rec.ToolCallID)
		return Entry{
			Signature:  FallbackSignature,
			RequestID:  rec.RequestID,
			ToolCallID: rec.ToolCallID,
			CreatedAt:  rec.CreatedAt,
			LastAccess: rec.LastAccess,
		}, true
	}
	entry := Entry{
		Signature:  data.Signature,
		Reasoning:  data.Reasoning,
		RequestID:  data.RequestID,
		ToolCallID: data.ToolCallID,
		IsImageKey: data.IsImageKey,
		Model:      data.Model,
		CreatedAt:  data.CreatedAt,
		LastAccess: rec.LastAccess,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if rec.Date != today {
		// Migration-on-read: re-enqueue a copy so it gets rewritten into
		// today's log, bounding retention cost without blocking the reader.
		go c.Save(entry.RequestID, entry.ToolCallID, entry.Signature, entry.Reasoning, entry.Model)
	}
	return entry, true
}

func (c *Cache) readRecord(rec *indexRecord) (diskRecord, error) {
	loc, err := c.readerLocation(rec)
	if err != nil {
		return diskRecord{}, err
	}
	path := filepath.Join(c.dir, rec.Date+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		return diskRecord{}, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, loc.Length)
	if _, err := f.ReadAt(buf, loc.Offset); err != nil {
		return diskRecord{}, err
	}
	var rec2 diskRecord
	if err := json.Unmarshal(buf, &rec2); err != nil {
		return diskRecord{}, err
	}
	return rec2, nil
}

func (c *Cache) readerLocation(rec *indexRecord) (offsetLen, error) {
	return offsetLen{Offset: rec.Offset, Length: rec.Length}, nil
}

func (c *Cache) writerLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(writeFlushEvery)
	defer ticker.Stop()

	batch := make([]*Entry, 0, writeBatchMax)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.flushBatch(batch); err != nil {
			log.WithError(err).Warn("signature: flush batch failed, retrying next tick")
			return // keep batch for the next tick; no data loss
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-c.writeCh:
			batch = append(batch, e)
			if len(batch) >= writeBatchMax {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.stopCh:
			// Drain whatever is queued before exiting.
			for {
				select {
				case e := <-c.writeCh:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (c *Cache) flushBatch(batch []*Entry) error {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if err := c.rotateIfNeededLocked(today); err != nil {
		return err
	}

	for _, e := range batch {
		payload := diskRecord{
			Signature:  e.Signature,
			Reasoning:  e.Reasoning,
			RequestID:  e.RequestID,
			ToolCallID: e.ToolCallID,
			IsImageKey: e.IsImageKey,
			Model:      e.Model,
			CreatedAt:  e.CreatedAt,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = append(data, '\n')
		offset := c.dataOffset
		if _, err := c.dataFile.Write(data); err != nil {
			return err
		}
		length := len(data) - 1 // exclude trailing newline from the recorded length
		c.dataOffset += int64(len(data))

		k := key(e.RequestID, e.ToolCallID)
		idx := idxLine{K: k, O: offset, L: length}
		idxData, err := json.Marshal(idx)
		if err != nil {
			return err
		}
		idxData = append(idxData, '\n')
		if _, err := c.idxFile.Write(idxData); err != nil {
			return err
		}

		c.byKey.Add(k, &indexRecord{
			Date: today, RequestID: e.RequestID, ToolCallID: e.ToolCallID,
			Offset: offset, Length: length, CreatedAt: e.CreatedAt, LastAccess: e.CreatedAt,
		})
		c.byTool.Add(e.ToolCallID, k)

		c.evictHot(k, e.CreatedAt)
	}
	return c.dataFile.Sync()
}

// evictHot removes the hot-map entry for k only if the stored entry is no
// newer than the one just persisted, so a racing newer write isn't dropped.
func (c *Cache) evictHot(k string, persistedCreatedAt time.Time) {
	c.hotMu.Lock()
	defer c.hotMu.Unlock()
	if e, ok := c.hot[k]; ok && !e.CreatedAt.After(persistedCreatedAt) {
		delete(c.hot, k)
	}
}

func (c *Cache) rotateIfNeededLocked(today string) error {
	if c.currentDate == today && c.dataFile != nil {
		return nil
	}
	if c.dataFile != nil {
		_ = c.dataFile.Close()
	}
	if c.idxFile != nil {
		_ = c.idxFile.Close()
	}
	dataPath := filepath.Join(c.dir, today+".jsonl")
	idxPath := filepath.Join(c.dir, today+".idx")
	df, err := os.OpenFile(dataPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("signature: open data file: %w", err)
	}
	idf, err := os.OpenFile(idxPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = df.Close()
		return fmt.Errorf("signature: open index file: %w", err)
	}
	info, err := df.Stat()
	if err != nil {
		_ = df.Close()
		_ = idf.Close()
		return err
	}
	c.currentDate = today
	c.dataFile = df
	c.idxFile = idf
	c.dataOffset = info.Size()
	return nil
}

// RetentionSweep deletes *.jsonl/*.idx files older than the configured
// retention window (min 2 days). Invoked daily by the background task.
func (c *Cache) RetentionSweep() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -c.retentionDays)
	for _, de := range entries {
		name := de.Name()
		ext := filepath.Ext(name)
		if ext != ".jsonl" && ext != ".idx" {
			continue
		}
		date := name[:len(name)-len(ext)]
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
				log.WithError(err).Warnf("signature: retention sweep failed to remove %s", name)
			}
		}
	}
	return nil
}
