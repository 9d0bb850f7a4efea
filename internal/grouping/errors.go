package grouping

import (
	"errors"
	"fmt"
)

// ErrGrouping is the root of the grouping error taxonomy. Every
// rejection a caller can receive from the coordinator wraps it, so
// callers that only care about "the grouping request was refused" can
// check the one sentinel:
//
//	if errors.Is(err, grouping.ErrGrouping) {
//	    // topology-invariant violation or an operation in progress
//	}
var ErrGrouping = errors.New("grouping error")

// Specific rejections. All wrap ErrGrouping and support errors.Is.
var (
	// ErrOperationInProgress means a grouping episode is committing or
	// a pending operation targets a different master. Requests are
	// rejected, never queued.
	ErrOperationInProgress = fmt.Errorf("%w: operation in progress", ErrGrouping)

	// ErrAlreadyMaster means the candidate member already leads its
	// own group and cannot join another without dissolving it first.
	ErrAlreadyMaster = fmt.Errorf("%w: speaker is master of another group", ErrGrouping)

	// ErrSlaveOfOtherMaster means the candidate member is grouped
	// under a different master and must leave before reassignment.
	ErrSlaveOfOtherMaster = fmt.Errorf("%w: speaker is slave of another master", ErrGrouping)

	// ErrMasterIsSlave means the candidate master is itself a slave.
	ErrMasterIsSlave = fmt.Errorf("%w: master is a slave", ErrGrouping)

	// ErrInconsistentGroup means the master's resolved slave set does
	// not match the set of speakers reporting it as master. A
	// partially-failed previous operation left the topology split.
	ErrInconsistentGroup = fmt.Errorf("%w: inconsistent group state", ErrGrouping)

	// ErrNotSlaveOfMaster means a removal targeted a speaker that does
	// not report itself slave of that master.
	ErrNotSlaveOfMaster = fmt.Errorf("%w: speaker is not a slave of this master", ErrGrouping)

	// ErrNotRegistered means the speaker id is unknown to the
	// coordinator's registry.
	ErrNotRegistered = fmt.Errorf("%w: speaker not registered", ErrGrouping)

	// ErrNotConnected means the master is currently unreachable.
	ErrNotConnected = fmt.Errorf("%w: master not connected", ErrGrouping)

	// ErrSelfMember means a master was listed as a member of its own
	// group request.
	ErrSelfMember = fmt.Errorf("%w: master cannot be its own member", ErrGrouping)
)
