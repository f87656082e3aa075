package retrieval

import (
	"os"

	"github.com/webstalk-archive/retriever/internal/decoder"
	"github.com/webstalk-archive/retriever/internal/fsutil"
)

// HttpStat is the per-retrieval mutable state, owned by Retrieve and
// threaded by reference through the retrieve loop and response
// processor.
type HttpStat struct {
	CurrentURL string

	// BytesRead is a cumulative wire-byte count: the entity bytes
	// consumed off the connection so far, before any content-decoding.
	// It shares units with Contlen and drives Restval/Range resumption.
	// BytesWritten is the decoded byte count actually written to the
	// part file, equal to BytesRead only under identity encoding.
	BytesRead    int64
	BytesWritten int64
	Restval      int64

	// Contlen is the remote total entity length, nil if unknown.
	Contlen *int64

	LastModified string
	// RemoteTime is the parsed mtime in seconds since epoch, nil if
	// unknown or unparseable.
	RemoteTime *int64

	Statcode int

	RemoteEncoding []string
	EncIsIdentity  bool

	Decoder *decoder.Stream

	DestDir  *fsutil.Dir
	PartFile *os.File

	destBasename string
	partBasename string
	makePartFile func() (*os.File, error)
	madePartFile bool
}

// dropDecoder closes and clears the resumable decoder, if any. Dropping
// without Close would leak the zstd decoder's worker goroutines.
func (h *HttpStat) dropDecoder() {
	if h.Decoder != nil {
		h.Decoder.Close()
		h.Decoder = nil
	}
}

// ensurePartFile invokes the deferred part-file factory at most once,
// realizing the "deferred part-file creation" design note: validation
// failures before the first confirmed-writable response never touch
// the filesystem.
func (h *HttpStat) ensurePartFile() (*os.File, error) {
	if h.madePartFile {
		return h.PartFile, nil
	}
	f, err := h.makePartFile()
	if err != nil {
		return nil, err
	}
	h.PartFile = f
	h.madePartFile = true
	return f, nil
}
