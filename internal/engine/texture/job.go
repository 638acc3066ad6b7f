package texture

import (
	"fmt"
	"time"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/internal/engine/texture/codec"
	"github.com/Faultbox/texpipe/internal/engine/texture/upload"
)

// JobState is the lifecycle stage of a Job.
type JobState int

const (
	JobPending JobState = iota
	JobDecoding
	JobDecoded
	JobFinalized
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobDecoding:
		return "decoding"
	case JobDecoded:
		return "decoded"
	case JobFinalized:
		return "finalized"
	case JobFailed:
		return "failed"
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// Job is one decode and upload request. The worker owns it while it sits in
// the decode queue; once handed to the init queue only the owning thread
// touches it.
type Job struct {
	ID       uint64
	Priority int
	Key      string
	Path     string
	Ext      string
	Info     LoadInfo
	State    JobState
	Err      error

	Queued    time.Time
	Started   time.Time
	Decoded   time.Time
	Completed time.Time

	seq      uint64
	index    int
	handle   *Handle
	cached   bool
	handler  codec.Handler
	prepared *upload.Prepared
	image    gpu.Image
	// decoded is closed once the job has left the decode queue for good.
	// It is nil for jobs run inline.
	decoded chan struct{}
	// again holds a reload requested while the job was in flight. It is
	// guarded by the manager's lock.
	again *LoadInfo
}

func (j *Job) fail(err error) {
	j.State = JobFailed
	j.Err = err
	j.handler = nil
	j.prepared = nil
}

func (j *Job) uploadOptions() upload.Options {
	return upload.Options{
		Mipmaps:     j.Info.Mipmaps,
		FinalFormat: j.Info.FinalFormat,
		SRGB:        j.Info.SRGB,
		Label:       j.Path,
	}
}
