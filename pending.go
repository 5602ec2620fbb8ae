package asyncfio

// idSpace is the number of correlation ids: [0, 16_777_215). Ids travel in
// 24 bits of the kernel user data.
const idSpace = 1<<24 - 1

// sequencer hands out correlation ids, cycling through [0, size) and
// wrapping to zero. Reactor-only.
type sequencer struct {
	next uint32
	size uint32
}

func (s *sequencer) nextID() uint32 {
	id := s.next
	s.next++
	if s.next >= s.size {
		s.next = 0
	}
	return id
}

// pendingOp is one submitted operation awaiting its completion. pin keeps
// the memory the kernel reads or writes reachable until then.
type pendingOp struct {
	future *Future
	pin    any
	op     Op
}

// pendingTable maps correlation ids to pending operations. Reactor-only.
//
// Ids still live after a full wrap are skipped, and registration fails once
// every id is live, so two operations can never share an id.
type pendingTable struct {
	ops map[uint32]*pendingOp
	seq sequencer
}

func newPendingTable(size uint32) *pendingTable {
	if size == 0 || size > idSpace {
		size = idSpace
	}
	return &pendingTable{
		ops: make(map[uint32]*pendingOp),
		seq: sequencer{size: size},
	}
}

func (t *pendingTable) register(op Op, future *Future, pin any) (uint32, error) {
	if uint32(len(t.ops)) >= t.seq.size {
		return 0, ErrTooManyInFlight
	}
	id := t.seq.nextID()
	for {
		if _, live := t.ops[id]; !live {
			break
		}
		id = t.seq.nextID()
	}
	t.ops[id] = &pendingOp{future: future, pin: pin, op: op}
	return id, nil
}

// resolve removes and completes the operation, returning false if the id is
// unknown.
func (t *pendingTable) resolve(id uint32, value int, err error) bool {
	p, ok := t.ops[id]
	if !ok {
		return false
	}
	delete(t.ops, id)
	p.future.complete(value, err)
	return true
}

func (t *pendingTable) len() int {
	return len(t.ops)
}

// failAll completes every operation with err, and returns them so their
// pinned memory can be retained.
func (t *pendingTable) failAll(err error) []*pendingOp {
	if len(t.ops) == 0 {
		return nil
	}
	ops := make([]*pendingOp, 0, len(t.ops))
	for id, p := range t.ops {
		delete(t.ops, id)
		p.future.complete(0, err)
		ops = append(ops, p)
	}
	return ops
}
