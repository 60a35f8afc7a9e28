package ecs

import (
	"context"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// systemRecord is a registered system.
type systemRecord struct {
	seq      uint32 // Registration sequence number, unique for the lifetime of the manager
	name     string
	system   System
	access   accessSet
	rate     TickRate
	requires []string
	enabled  bool
	log      zerolog.Logger
}

// fixedBucket groups the systems that share a fixed tick interval. The bucket accumulates tick
// time and all its systems run once the accumulated time reaches the interval.
type fixedBucket struct {
	interval    time.Duration
	accumulated time.Duration
}

// -------------------------------------------------------------------------------------------------
// Lifecycle requests
// -------------------------------------------------------------------------------------------------

type requestOp uint8

const (
	requestRegister requestOp = iota + 1
	requestUnregister
	requestEnable
	requestDisable
)

func (op requestOp) String() string {
	switch op {
	case requestRegister:
		return "register"
	case requestUnregister:
		return "unregister"
	case requestEnable:
		return "enable"
	case requestDisable:
		return "disable"
	default:
		return "unknown"
	}
}

type systemRequest struct {
	op   requestOp
	name string
	next *systemRequest
}

// requestStack is a lock-free stack of lifecycle requests. Any goroutine can push; the owner of the
// world takes every request at once and processes them oldest first.
type requestStack struct {
	head atomic.Pointer[systemRequest]
}

func (s *requestStack) push(req *systemRequest) {
	for {
		old := s.head.Load()
		req.next = old
		if s.head.CompareAndSwap(old, req) {
			return
		}
	}
}

// takeAll empties the stack and returns its requests in push order.
func (s *requestStack) takeAll() []*systemRequest {
	top := s.head.Swap(nil)
	var reqs []*systemRequest
	for req := top; req != nil; req = req.next {
		reqs = append(reqs, req)
	}
	slices.Reverse(reqs)
	return reqs
}

// -------------------------------------------------------------------------------------------------
// System manager
// -------------------------------------------------------------------------------------------------

// SystemManager owns the systems of a world: the catalog of defined systems, the registered
// systems and their lifecycle, and the scheduler that groups them into batches.
//
// Define and the query methods must be called from the goroutine that owns the world. Register,
// Unregister, Enable and Disable can be called from any goroutine; they take effect at the start of
// the next tick.
type SystemManager struct {
	world     *World
	catalog   map[string]SystemFactory // System name -> factory
	records   []*systemRecord          // Registered systems in registration order
	byName    map[string]*systemRecord
	buckets   map[time.Duration]*fixedBucket
	nextSeq   uint32
	requests  requestStack
	scheduler systemScheduler
	log       zerolog.Logger
}

func newSystemManager(w *World, workers int, log zerolog.Logger) *SystemManager {
	return &SystemManager{
		world:     w,
		catalog:   make(map[string]SystemFactory),
		records:   make([]*systemRecord, 0),
		byName:    make(map[string]*systemRecord),
		buckets:   make(map[time.Duration]*fixedBucket),
		scheduler: newSystemScheduler(workers),
		log:       log,
	}
}

// Define adds system types to the catalog. Each factory is called once to learn the name of the
// system it builds. Defining a name twice is an error.
func (m *SystemManager) Define(factories ...SystemFactory) error {
	for _, factory := range factories {
		if factory == nil {
			return eris.New("system factory cannot be nil")
		}
		sys := factory()
		if sys == nil {
			return eris.New("system factory returned nil")
		}
		name := sys.Name()
		if name == "" {
			return eris.New("system name cannot be empty")
		}
		if _, exists := m.catalog[name]; exists {
			return eris.Errorf("system %s is already defined", name)
		}
		m.catalog[name] = factory
	}
	return nil
}

// Register requests registering the named system and, first, any system it requires.
func (m *SystemManager) Register(name string) {
	m.requests.push(&systemRequest{op: requestRegister, name: name})
}

// Unregister requests removing the named system.
func (m *SystemManager) Unregister(name string) {
	m.requests.push(&systemRequest{op: requestUnregister, name: name})
}

// Enable requests resuming a disabled system.
func (m *SystemManager) Enable(name string) {
	m.requests.push(&systemRequest{op: requestEnable, name: name})
}

// Disable requests pausing a system. A disabled system stays registered but isn't scheduled.
func (m *SystemManager) Disable(name string) {
	m.requests.push(&systemRequest{op: requestDisable, name: name})
}

// IsRegistered reports whether the system is registered.
func (m *SystemManager) IsRegistered(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// IsEnabled reports whether the system is registered and enabled.
func (m *SystemManager) IsEnabled(name string) bool {
	rec, ok := m.byName[name]
	return ok && rec.enabled
}

// Registered returns the names of the registered systems in registration order.
func (m *SystemManager) Registered() []string {
	names := make([]string, len(m.records))
	for i, rec := range m.records {
		names[i] = rec.name
	}
	return names
}

// Batches returns the names of the every frame systems grouped by batch, in execution order.
func (m *SystemManager) Batches() [][]string {
	batches := m.scheduler.frameBatches(m.records)
	out := make([][]string, len(batches))
	for i, b := range batches {
		out[i] = make([]string, len(b.systems))
		for j, rec := range b.systems {
			out[i][j] = rec.name
		}
	}
	return out
}

// processRequests applies every pending lifecycle request in the order it was made. Failed
// requests are logged and don't stop the others.
func (m *SystemManager) processRequests() {
	for _, req := range m.requests.takeAll() {
		var err error
		switch req.op {
		case requestRegister:
			err = m.register(req.name, nil)
		case requestUnregister:
			err = m.unregister(req.name)
		case requestEnable:
			err = m.setEnabled(req.name, true)
		case requestDisable:
			err = m.setEnabled(req.name, false)
		}
		if err != nil {
			m.log.Error().Err(err).Stringer("op", req.op).Str("system", req.name).Msg("system request failed")
		}
	}
}

// register registers the named system after its required systems. path holds the systems whose
// registration is in progress, and is used to detect cycles.
func (m *SystemManager) register(name string, path []string) error {
	if _, ok := m.byName[name]; ok {
		return nil
	}
	if slices.Contains(path, name) {
		cycle := append(slices.Clone(path), name)
		return eris.Wrapf(ErrSystemCycle, "%s", strings.Join(cycle, " -> "))
	}

	factory, ok := m.catalog[name]
	if !ok {
		return eris.Wrapf(ErrSystemNotDefined, "system %s", name)
	}

	sys := factory()
	var spec SystemSpec
	if d, ok := sys.(Describer); ok {
		spec = d.Describe()
	}
	if err := spec.Rate.validate(); err != nil {
		return eris.Wrapf(err, "system %s", name)
	}

	for _, dep := range spec.Requires {
		if _, defined := m.catalog[dep]; !defined {
			m.log.Warn().Str("system", name).Str("requires", dep).Msg("required system is not defined, skipping")
			continue
		}
		if err := m.register(dep, append(path, name)); err != nil {
			return eris.Wrapf(err, "failed to register %s required by %s", dep, name)
		}
	}

	access, err := m.resolveAccess(spec)
	if err != nil {
		return eris.Wrapf(err, "system %s", name)
	}

	if initializer, ok := sys.(Initializer); ok {
		if err := initializer.Init(m.world); err != nil {
			return eris.Wrapf(err, "failed to init system %s", name)
		}
	}

	rec := &systemRecord{
		seq:      m.nextSeq,
		name:     name,
		system:   sys,
		access:   access,
		rate:     spec.Rate,
		requires: spec.Requires,
		enabled:  true,
		log:      m.world.log.With().Str("system", name).Logger(),
	}
	m.nextSeq++
	m.records = append(m.records, rec)
	m.byName[name] = rec
	if rec.rate.kind == rateFixed {
		if _, ok := m.buckets[rec.rate.interval]; !ok {
			m.buckets[rec.rate.interval] = &fixedBucket{interval: rec.rate.interval}
		}
	}
	m.scheduler.invalidate()

	m.log.Debug().Str("system", name).Stringer("rate", rec.rate).Msg("system registered")
	return nil
}

// resolveAccess converts the declared component prototypes to component ID bitmaps.
func (m *SystemManager) resolveAccess(spec SystemSpec) (accessSet, error) {
	var access accessSet
	reads, err := m.world.components.signatureOf(spec.Reads)
	if err != nil {
		return access, eris.Wrap(err, "invalid read set")
	}
	writes, err := m.world.components.signatureOf(spec.Writes)
	if err != nil {
		return access, eris.Wrap(err, "invalid write set")
	}
	for id := range reads.All() {
		access.reads.Set(uint32(id))
	}
	for id := range writes.All() {
		access.writes.Set(uint32(id))
	}
	return access, nil
}

func (m *SystemManager) unregister(name string) error {
	rec, ok := m.byName[name]
	if !ok {
		return eris.Wrapf(ErrSystemNotRegistered, "system %s", name)
	}
	m.records = slices.DeleteFunc(m.records, func(r *systemRecord) bool { return r == rec })
	delete(m.byName, name)
	m.scheduler.invalidate()

	m.log.Debug().Str("system", name).Msg("system unregistered")
	return nil
}

func (m *SystemManager) setEnabled(name string, enabled bool) error {
	rec, ok := m.byName[name]
	if !ok {
		return eris.Wrapf(ErrSystemNotRegistered, "system %s", name)
	}
	if rec.enabled == enabled {
		return nil
	}
	rec.enabled = enabled
	m.scheduler.invalidate()
	return nil
}

// -------------------------------------------------------------------------------------------------
// Execution
// -------------------------------------------------------------------------------------------------

// runTick runs the every frame systems, then the fixed rate systems whose interval has elapsed.
// The fixed buckets only advance when every system succeeded, so a failed tick is retried with
// the same accumulated time.
func (m *SystemManager) runTick(ctx context.Context, tick uint64, dt time.Duration) error {
	frame := m.scheduler.frameBatches(m.records)
	err := m.scheduler.run(ctx, runner{
		world: m.world,
		tick:  tick,
		dt:    func(*systemRecord) time.Duration { return dt },
	}, frame)
	if err != nil {
		return err
	}

	due, elapsed := m.dueFixed(dt)
	if len(due) > 0 {
		err = m.scheduler.run(ctx, runner{
			world: m.world,
			tick:  tick,
			dt:    func(rec *systemRecord) time.Duration { return elapsed[rec.rate.interval] },
		}, m.scheduler.fixedBatches(due))
		if err != nil {
			return err
		}
	}

	m.advanceFixed(dt, elapsed)
	return nil
}

// dueFixed returns the systems of the fixed buckets that are due once dt is added, with the time
// each due bucket would have accumulated. The buckets are left unchanged.
func (m *SystemManager) dueFixed(dt time.Duration) ([]*systemRecord, map[time.Duration]time.Duration) {
	var elapsed map[time.Duration]time.Duration
	for interval, bucket := range m.buckets {
		if total := bucket.accumulated + dt; total >= interval {
			if elapsed == nil {
				elapsed = make(map[time.Duration]time.Duration)
			}
			elapsed[interval] = total
		}
	}
	if elapsed == nil {
		return nil, nil
	}

	var due []*systemRecord
	for _, rec := range m.records {
		if !rec.enabled || rec.rate.kind != rateFixed {
			continue
		}
		if _, ok := elapsed[rec.rate.interval]; ok {
			due = append(due, rec)
		}
	}
	return due, elapsed
}

// advanceFixed adds dt to every fixed bucket and resets the ones that were due.
func (m *SystemManager) advanceFixed(dt time.Duration, due map[time.Duration]time.Duration) {
	for interval, bucket := range m.buckets {
		if _, ok := due[interval]; ok {
			bucket.accumulated = 0
			continue
		}
		bucket.accumulated += dt
	}
}

// runOne runs a single registered system regardless of its tick rate.
func (m *SystemManager) runOne(ctx context.Context, name string, tick uint64) error {
	rec, ok := m.byName[name]
	if !ok {
		return eris.Wrapf(ErrSystemNotRegistered, "system %s", name)
	}
	b := batch{systems: []*systemRecord{rec}, access: rec.access}
	return m.scheduler.runBatch(ctx, runner{
		world: m.world,
		tick:  tick,
		dt:    func(*systemRecord) time.Duration { return 0 },
	}, &b)
}
