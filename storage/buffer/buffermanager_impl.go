package buffer

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type bufferPoolEntry struct {
	BTreeID string
	BlockID BlockID
}

// PageFrame is one slot of the in-memory pool. The index core never
// sees this type; it only ever holds the Page{Data} handed back by
// PinPage, for exactly as long as the block stays pinned.
type PageFrame struct {
	Data       []byte
	BlockID    BlockID
	BTreeID    string
	PinCount   int
	Dirty      bool
	LastAccess time.Time
}

func newPageFrame(blockSize int) *PageFrame {
	return &PageFrame{Data: make([]byte, blockSize)}
}

func (pf *PageFrame) reset(blockSize int) {
	if len(pf.Data) != blockSize {
		pf.Data = make([]byte, blockSize)
	} else {
		for i := range pf.Data {
			pf.Data[i] = 0
		}
	}
	pf.BlockID = 0
	pf.BTreeID = ""
	pf.PinCount = 0
	pf.Dirty = false
	pf.LastAccess = time.Time{}
}

// replacementPolicy picks an eviction victim among unpinned frames.
// The index core does no concurrent mutation (spec's non-goal), so this
// needs no locking of its own.
type replacementPolicy interface {
	findVictim(frames []*PageFrame) int
}

type lruReplacementPolicy struct{}

func (lruReplacementPolicy) findVictim(frames []*PageFrame) int {
	victim := -1
	var oldest time.Time
	for i, f := range frames {
		if f.PinCount > 0 || f.BTreeID == "" {
			continue
		}
		if victim == -1 || f.LastAccess.Before(oldest) {
			victim = i
			oldest = f.LastAccess
		}
	}
	return victim
}

type openFile struct {
	file      *os.File
	blockSize int
	numBlocks uint64
}

// BufferManagerImpl is a bounded LRU cache of fixed-size blocks backed
// by one file per open index. It has no notion of node structure, free
// lists, or key ordering — those belong to storage/btree, which talks
// to this type purely in terms of block numbers.
type BufferManagerImpl struct {
	config BufferManagerConfig
	log    *zap.Logger

	frames  []*PageFrame
	pageMap map[bufferPoolEntry]int
	policy  replacementPolicy

	files map[string]*openFile

	stats Stats
}

// NewBufferManager constructs a buffer manager rooted at the configured
// directory, with a fixed in-memory frame pool sized by BufferSize.
func NewBufferManager(log *zap.Logger, options ...Option) (*BufferManagerImpl, error) {
	if log == nil {
		log = zap.NewNop()
	}
	config := BufferManagerConfig{
		Directory:  ".",
		BufferSize: 64,
	}
	for _, option := range options {
		option(&config)
	}
	if config.BufferSize <= 0 {
		return nil, errors.New("buffer size must be positive")
	}
	if config.Directory == "" {
		return nil, errors.New("storage directory cannot be empty")
	}
	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "create storage directory %q", config.Directory)
	}

	bm := &BufferManagerImpl{
		config:  config,
		log:     log,
		frames:  make([]*PageFrame, config.BufferSize),
		pageMap: make(map[bufferPoolEntry]int),
		policy:  lruReplacementPolicy{},
		files:   make(map[string]*openFile),
	}
	for i := range bm.frames {
		bm.frames[i] = newPageFrame(0)
	}
	return bm, nil
}

func (bm *BufferManagerImpl) Stats() Stats { return bm.stats }

func (bm *BufferManagerImpl) GetBlockSize(btreeID string) (int, error) {
	f, ok := bm.files[btreeID]
	if !ok {
		return 0, ErrBTreeNotFound
	}
	return f.blockSize, nil
}

func (bm *BufferManagerImpl) GetNumBlocks(btreeID string) (uint64, error) {
	f, ok := bm.files[btreeID]
	if !ok {
		return 0, ErrBTreeNotFound
	}
	return f.numBlocks, nil
}

// CreateBTree creates a new index file of exactly numBlocks fixed-size
// blocks. The block count is fixed for the file's lifetime: the core
// never grows a store underneath the buffer manager, it only recycles
// blocks 2..numBlocks-1 through the free list (see storage/btree).
func (bm *BufferManagerImpl) CreateBTree(name string, blockSize, numBlocks int) error {
	if name == "" {
		return errors.New("index name cannot be empty")
	}
	if blockSize <= 0 {
		return errors.Newf("block size %d must be positive", blockSize)
	}
	if numBlocks < 2 {
		return errors.Newf("index needs at least 2 blocks (superblock + root), got %d", numBlocks)
	}
	if _, exists := bm.files[name]; exists {
		return errors.Newf("index %q already open", name)
	}

	path := filepath.Join(bm.config.Directory, name)
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("file %q already exists on disk", path)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "stat %q", path)
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %q", path)
	}
	if err := file.Truncate(int64(blockSize) * int64(numBlocks)); err != nil {
		file.Close()
		os.Remove(path)
		return errors.Wrapf(err, "truncate new index file %q", name)
	}

	bm.files[name] = &openFile{file: file, blockSize: blockSize, numBlocks: uint64(numBlocks)}
	bm.log.Info("created index file", zap.String("index", name), zap.Int("block_size", blockSize), zap.Int("num_blocks", numBlocks))
	return nil
}

func (bm *BufferManagerImpl) OpenBTree(name string) error {
	if name == "" {
		return errors.New("index name cannot be empty")
	}
	if _, exists := bm.files[name]; exists {
		return nil
	}

	path := filepath.Join(bm.config.Directory, name)
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrBTreeNotFound
		}
		return errors.Wrapf(err, "open %q", name)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return errors.Wrapf(err, "stat %q", name)
	}

	blockSize, err := bm.sniffBlockSize(file)
	if err != nil {
		file.Close()
		return err
	}

	numBlocks := uint64(info.Size()) / uint64(blockSize)
	if numBlocks == 0 {
		numBlocks = 1
	}

	bm.files[name] = &openFile{file: file, blockSize: blockSize, numBlocks: numBlocks}
	bm.log.Info("opened index file", zap.String("index", name), zap.Int("block_size", blockSize), zap.Uint64("num_blocks", numBlocks))
	return nil
}

// sniffBlockSize reads the superblock's header fields to learn the
// block size of a file whose size was chosen at creation time, not
// passed in again by the caller.
func (bm *BufferManagerImpl) sniffBlockSize(file *os.File) (int, error) {
	header := make([]byte, 32)
	if _, err := file.ReadAt(header, 0); err != nil && err != io.EOF {
		return 0, errors.Wrapf(err, "read superblock header")
	}
	blockSize := int(header[12]) | int(header[13])<<8 | int(header[14])<<16 | int(header[15])<<24
	if blockSize <= 0 {
		return 0, errors.New("superblock header does not describe a valid block size")
	}
	return blockSize, nil
}

func (bm *BufferManagerImpl) CloseBTree(name string) error {
	f, exists := bm.files[name]
	if !exists {
		return ErrBTreeNotFound
	}

	var pinned []BlockID
	for entry, idx := range bm.pageMap {
		if entry.BTreeID != name {
			continue
		}
		frame := bm.frames[idx]
		if frame.PinCount > 0 {
			pinned = append(pinned, entry.BlockID)
			continue
		}
		if frame.Dirty {
			if err := bm.writeThrough(name, f, frame); err != nil {
				return err
			}
		}
		delete(bm.pageMap, entry)
		frame.reset(0)
	}
	if len(pinned) > 0 {
		return errors.Newf("cannot close index %q: blocks %v are still pinned", name, pinned)
	}

	err := f.file.Close()
	delete(bm.files, name)
	if err != nil {
		return errors.Wrapf(err, "close file for index %q", name)
	}
	bm.log.Info("closed index file", zap.String("index", name))
	return nil
}

func (bm *BufferManagerImpl) DeleteBTree(name string) error {
	if err := bm.CloseBTree(name); err != nil && !errors.Is(err, ErrBTreeNotFound) {
		return errors.Wrapf(err, "close before delete %q", name)
	}
	path := filepath.Join(bm.config.Directory, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove file %q", path)
	}
	bm.log.Info("deleted index file", zap.String("index", name))
	return nil
}

func (bm *BufferManagerImpl) PinPage(btreeID string, blockID BlockID) (Page, error) {
	f, exists := bm.files[btreeID]
	if !exists {
		return Page{}, ErrBTreeNotFound
	}
	if blockID >= BlockID(f.numBlocks) {
		return Page{}, errors.Mark(errors.Newf("block %d out of range for index %q of %d blocks", blockID, btreeID, f.numBlocks), ErrPageNotFound)
	}

	entry := bufferPoolEntry{BTreeID: btreeID, BlockID: blockID}
	bm.stats.Reads++
	bm.stats.Clock++

	if idx, ok := bm.pageMap[entry]; ok {
		frame := bm.frames[idx]
		frame.PinCount++
		frame.LastAccess = time.Now()
		return Page{Data: frame.Data}, nil
	}

	idx, err := bm.acquireFrame(f.blockSize)
	if err != nil {
		return Page{}, err
	}
	frame := bm.frames[idx]
	frame.reset(f.blockSize)
	if err := bm.readBlock(btreeID, f, blockID, frame.Data); err != nil {
		return Page{}, err
	}
	frame.BTreeID = btreeID
	frame.BlockID = blockID
	frame.PinCount = 1
	frame.LastAccess = time.Now()
	bm.pageMap[entry] = idx
	return Page{Data: frame.Data}, nil
}

// acquireFrame returns an unused frame index, evicting an LRU victim if
// the pool is full. The victim is flushed first if dirty.
func (bm *BufferManagerImpl) acquireFrame(blockSize int) (int, error) {
	for i, f := range bm.frames {
		if f.BTreeID == "" {
			return i, nil
		}
	}

	victim := bm.policy.findVictim(bm.frames)
	if victim == -1 {
		return -1, ErrBufferFull
	}
	frame := bm.frames[victim]
	if frame.Dirty {
		vf, exists := bm.files[frame.BTreeID]
		if !exists {
			return -1, errors.Newf("internal error: victim block belongs to unknown index %q", frame.BTreeID)
		}
		if err := bm.writeThrough(frame.BTreeID, vf, frame); err != nil {
			return -1, err
		}
	}
	delete(bm.pageMap, bufferPoolEntry{BTreeID: frame.BTreeID, BlockID: frame.BlockID})
	return victim, nil
}

func (bm *BufferManagerImpl) UnpinPage(btreeID string, blockID BlockID, isDirty bool) error {
	entry := bufferPoolEntry{BTreeID: btreeID, BlockID: blockID}
	idx, exists := bm.pageMap[entry]
	if !exists {
		return errors.Newf("unpin failed: block %s:%d not in buffer pool", btreeID, blockID)
	}
	frame := bm.frames[idx]
	if frame.PinCount <= 0 {
		return errors.Newf("unpin failed: block %s:%d is not pinned", btreeID, blockID)
	}
	frame.PinCount--
	if isDirty {
		frame.Dirty = true
		bm.stats.Writes++
	}
	frame.LastAccess = time.Now()
	bm.stats.Clock++
	return nil
}

func (bm *BufferManagerImpl) NotifyAllocateBlock(btreeID string, blockID BlockID) {
	bm.stats.Allocations++
	bm.log.Debug("block allocated", zap.String("index", btreeID), zap.Uint64("block", uint64(blockID)))
}

func (bm *BufferManagerImpl) NotifyDeallocateBlock(btreeID string, blockID BlockID) {
	bm.stats.Deallocation++
	bm.log.Debug("block deallocated", zap.String("index", btreeID), zap.Uint64("block", uint64(blockID)))
}

// readBlock loads blockID into buf. A short or empty read past the
// current end of file is not an error: it means the caller is pinning
// a block that the allocator has handed out but never written, and buf
// (already zeroed by the caller) is exactly the right content for a
// fresh block.
func (bm *BufferManagerImpl) readBlock(btreeID string, f *openFile, blockID BlockID, buf []byte) error {
	offset := int64(blockID) * int64(f.blockSize)
	_, err := f.file.ReadAt(buf, offset)
	bm.stats.DiskReads++
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "read block %s:%d", btreeID, blockID)
	}
	return nil
}

func (bm *BufferManagerImpl) writeThrough(btreeID string, f *openFile, frame *PageFrame) error {
	offset := int64(frame.BlockID) * int64(f.blockSize)
	n, err := f.file.WriteAt(frame.Data, offset)
	bm.stats.DiskWrites++
	if err != nil {
		return errors.Wrapf(err, "write block %s:%d", btreeID, frame.BlockID)
	}
	if n != len(frame.Data) {
		return errors.Newf("incomplete write for block %s:%d: wrote %d of %d bytes", btreeID, frame.BlockID, n, len(frame.Data))
	}
	frame.Dirty = false
	return nil
}

// Flush forces every dirty block of the given index to disk without
// closing it.
func (bm *BufferManagerImpl) Flush(btreeID string) error {
	f, exists := bm.files[btreeID]
	if !exists {
		return ErrBTreeNotFound
	}
	for entry, idx := range bm.pageMap {
		if entry.BTreeID != btreeID {
			continue
		}
		frame := bm.frames[idx]
		if frame.Dirty {
			if err := bm.writeThrough(btreeID, f, frame); err != nil {
				return err
			}
		}
	}
	return nil
}
