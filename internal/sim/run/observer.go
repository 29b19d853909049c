package run

import (
	"encoding/json"

	"hillracer.ai/internal/observerproto"
	"hillracer.ai/internal/sim/terrain/store"
)

func (r *Runner) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	// Replace existing session id if any.
	if old := r.observers[req.SessionID]; old != nil {
		close(old.out)
	}
	every := req.TickEvery
	if every <= 0 {
		every = 1
	}
	r.observers[req.SessionID] = &observerClient{
		id:        req.SessionID,
		out:       req.Out,
		samples:   req.Samples,
		tickEvery: every,
	}
}

func (r *Runner) handleObserverLeave(sessionID string) {
	c := r.observers[sessionID]
	if c == nil {
		return
	}
	delete(r.observers, sessionID)
	close(c.out)
}

func (r *Runner) closeObservers() {
	for id, c := range r.observers {
		delete(r.observers, id)
		close(c.out)
	}
}

func terrainMsg(ev store.Event, withSamples bool) observerproto.TerrainMsg {
	m := observerproto.TerrainMsg{
		Type:            "TERRAIN",
		ProtocolVersion: observerproto.Version,
		Seq:             ev.Seq,
		Event:           string(ev.Type),
		RunID:           ev.RunID,
		Biome:           ev.Biome,
		Chunk:           ev.Chunk,
		Span:            ev.Span,
		Slices:          ev.Slices,
		Failed:          ev.Failed,
		Entities:        ev.Entities,
		Entity:          ev.Entity,
		Pos:             ev.Pos,
	}
	if withSamples {
		m.Samples = ev.Samples
	}
	return m
}

// publish sends pending terrain events and a TICK to every observer. A full
// observer channel drops messages rather than stalling the loop.
func (r *Runner) publish() {
	events := r.pending
	r.pending = r.pending[:0]
	if len(r.observers) == 0 {
		return
	}

	var plain, full [][]byte
	for _, ev := range events {
		b, _ := json.Marshal(terrainMsg(ev, false))
		plain = append(plain, b)
		if len(ev.Samples) > 0 {
			b, _ = json.Marshal(terrainMsg(ev, true))
		}
		full = append(full, b)
	}
	tick, _ := json.Marshal(observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		Tick:            r.tick,
		RunID:           r.sess.Stream().RunID(),
		Agent:           r.agentState(),
		Resident:        r.sess.Stream().Resident(),
	})

	for _, c := range r.observers {
		msgs := plain
		if c.samples {
			msgs = full
		}
		for _, b := range msgs {
			r.send(c, b)
		}
		if r.tick%uint64(c.tickEvery) == 0 {
			r.send(c, tick)
		}
	}
}

func (r *Runner) send(c *observerClient, b []byte) {
	select {
	case c.out <- b:
	default:
		c.dropped++
		if c.dropped == 1 || c.dropped%1000 == 0 {
			r.log.Printf("observer %s: dropped %d messages", c.id, c.dropped)
		}
	}
}
