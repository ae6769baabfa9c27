// Package consensus is the thin boundary between this core and the
// external consensus collaborator that actually votes on and commits
// blocks.
package consensus

import (
	"context"
	"log"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

// BlockMsg is what the block builder hands off at the end of §4.I: the
// serialized block plus its attached per-tx VRF proofs and the signer's
// signature over the whole message.
type BlockMsg struct {
	Block     txtypes.Block
	VRFProofs map[string][]byte // tx hash hex -> VRF proof bytes, dispatched txs only
	Signature []byte
}

// BlockSink is the external consensus collaborator's receiving surface
// (DoHandleBlock). Out of this core's scope beyond this one call.
type BlockSink interface {
	DoHandleBlock(ctx context.Context, msg BlockMsg) error
}

// LoggingSink is a minimal BlockSink that logs the block and accepts it,
// useful as a default wiring for single-node runs and as a base to layer
// a real consensus client onto.
type LoggingSink struct {
	logger *log.Logger
}

// NewLoggingSink constructs a LoggingSink.
func NewLoggingSink() *LoggingSink {
	return &LoggingSink{logger: log.New(log.Writer(), "[consensus] ", log.LstdFlags)}
}

func (s *LoggingSink) DoHandleBlock(ctx context.Context, msg BlockMsg) error {
	s.logger.Printf("sealed block height=%d txs=%d hash=%x", msg.Block.Height, len(msg.Block.Txs), msg.Block.Hash)
	return nil
}
