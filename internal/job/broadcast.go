package job

import (
	"fmt"
	"time"

	"github.com/sitescope/crawlcore/internal/metadata"
)

// CallbackNotifier adapts a config.ProgressFunc-shaped callback (and a
// MetadataSink for lifecycle logging) to the Notifier/Lifecycle ports. It is
// the default broadcaster cmd/crawlcore wires the controller to.
type CallbackNotifier struct {
	onProgress func(pagesCrawled int)
	sink       metadata.MetadataSink
}

// NewCallbackNotifier builds a CallbackNotifier. onProgress may be nil.
func NewCallbackNotifier(onProgress func(pagesCrawled int), sink metadata.MetadataSink) *CallbackNotifier {
	return &CallbackNotifier{onProgress: onProgress, sink: sink}
}

func (n *CallbackNotifier) NotifyProgress(p Progress) {
	if n.onProgress != nil {
		n.onProgress(p.PagesCrawled)
	}
}

func (n *CallbackNotifier) NotifyStateChange(jobID string, from, to State) {
	if n.sink == nil {
		return
	}
	n.sink.RecordError(time.Now(), "job", "state_change", metadata.CauseUnknown,
		fmt.Sprintf("%s: %s -> %s", jobID, from, to), nil)
}
