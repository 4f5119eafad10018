// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"

	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/track"
)

// Hook names a script may define.
const (
	HookPrune      = "prune"
	HookBuildTree  = "build_tree"
	HookFirstTrack = "get_first_track"
	HookNextTrack  = "get_next_track"
)

// ErrHookMissing is returned by CallHook for a hook the script does not
// define.
var ErrHookMissing = errors.New("hook not defined")

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	Recursion:       true,
}

// Options configures an Env.
type Options struct {
	// Seed seeds every random helper.
	Seed uint64

	// MaxExecutionSteps caps the computation of the script. Zero is
	// unlimited.
	MaxExecutionSteps uint64

	// Logger receives the script's print output. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Env is the evaluation environment of one script run. It owns the
// Starlark thread, the random generator, and the current tree. Not safe
// for concurrent use, except Cancel.
type Env struct {
	logger      *slog.Logger
	rng         *rand.Rand
	thread      *starlark.Thread
	predeclared starlark.StringDict
	globals     starlark.StringDict

	tree    *Tree
	logging []track.Dimension
}

// New returns an env with its capability table built and frozen.
func New(options Options) *Env {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Env{
		logger: logger,
		rng:    newRand(options.Seed),
	}
	e.thread = e.newThread("script")
	if options.MaxExecutionSteps > 0 {
		e.thread.SetMaxExecutionSteps(options.MaxExecutionSteps)
	}
	e.predeclared = e.table()
	e.predeclared.Freeze()
	return e
}

func (e *Env) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, message string) {
			e.logger.Info("script output", "source", "script", "text", message)
		},
		Load: forbidLoad,
	}
}

// Predeclared returns a copy of the capability table.
func (e *Env) Predeclared() starlark.StringDict {
	table := make(starlark.StringDict, len(e.predeclared))
	for name, value := range e.predeclared {
		table[name] = value
	}
	return table
}

// Rand returns the build's random generator.
func (e *Env) Rand() *rand.Rand { return e.rng }

// Exec evaluates the script's top level. name appears in backtraces.
func (e *Env) Exec(name string, source []byte) error {
	globals, err := starlark.ExecFileOptions(fileOptions, e.thread, name, source, e.predeclared)
	if err != nil {
		return scriptError(err)
	}
	e.globals = globals
	return nil
}

// HasHook reports whether the script defines a callable named name.
func (e *Env) HasHook(name string) bool {
	_, ok := e.globals[name].(starlark.Callable)
	return ok
}

// CallHook calls the script's hook with the hook context. A hook
// declared without parameters is called without it.
func (e *Env) CallHook(name string, context starlark.Value) (starlark.Value, error) {
	fn, ok := e.globals[name].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrHookMissing)
	}
	args := starlark.Tuple{context}
	if function, ok := fn.(*starlark.Function); ok && function.NumParams() == 0 && !function.HasVarargs() {
		args = nil
	}
	result, err := starlark.Call(e.thread, fn, args, nil)
	if err != nil {
		return nil, scriptError(err)
	}
	return result, nil
}

// Cancel stops the script at its next step. Safe to call from any
// goroutine.
func (e *Env) Cancel(reason string) { e.thread.Cancel(reason) }

// Steps returns the number of computation steps the script has taken.
func (e *Env) Steps() uint64 { return e.thread.ExecutionSteps() }

// SetTree makes tree the target of the global tree functions.
func (e *Env) SetTree(tree *Tree) { e.tree = tree }

// Tree returns the current tree, or nil.
func (e *Env) Tree() *Tree { return e.tree }

// Dimensions returns the dimensions of the current tree followed by
// the ones the script registered for logging, without duplicates.
func (e *Env) Dimensions() []track.Dimension {
	var dimensions []track.Dimension
	if e.tree != nil {
		dimensions = e.tree.index.Dimensions()
	}
	for _, dimension := range e.logging {
		if !slices.Contains(dimensions, dimension) {
			dimensions = append(dimensions, dimension)
		}
	}
	return dimensions
}

// SelfCheck probes the env's own capability table and load policy.
func (e *Env) SelfCheck() ipc.SelfCheckReport {
	return RunProbes(e.predeclared, forbidLoad)
}

// scriptError attaches the Starlark backtrace to evaluation errors.
func scriptError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &ScriptError{Message: evalErr.Msg, Backtrace: evalErr.Backtrace(), cause: err}
	}
	return err
}

// ScriptError is a failure raised while evaluating script code.
type ScriptError struct {
	Message   string
	Backtrace string
	cause     error
}

func (e *ScriptError) Error() string { return e.Message }
func (e *ScriptError) Unwrap() error { return e.cause }

// HookContext builds the single argument passed to a hook.
func HookContext(fields starlark.StringDict) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("context"), fields)
}

// TrackValue wraps a corpus record for a hook context.
func TrackValue(record track.Record, tag string) starlark.Value { return newTrack(record, tag) }

// TrackMap exposes the corpus tracks keyed by id.
func TrackMap(corpus *track.Corpus) starlark.Value { return trackMap(corpus) }

// TagMap exposes the corpus id to tag index.
func TagMap(corpus *track.Corpus) starlark.Value { return tagMap(corpus) }

// PointList returns points as a frozen list.
func PointList(points []track.Point) starlark.Value {
	values := make([]starlark.Value, len(points))
	for i, point := range points {
		values[i] = NewPoint(point)
	}
	list := starlark.NewList(values)
	list.Freeze()
	return list
}

// TagSet returns the seen-tag set as a frozen dict of tag to True.
func TagSet(tags map[string]bool) starlark.Value {
	dict := starlark.NewDict(len(tags))
	keys := make([]string, 0, len(tags))
	for tag, seen := range tags {
		if seen {
			keys = append(keys, tag)
		}
	}
	slices.Sort(keys)
	for _, tag := range keys {
		dict.SetKey(starlark.String(tag), starlark.True)
	}
	dict.Freeze()
	return dict
}

// table builds the predeclared names.
func (e *Env) table() starlark.StringDict {
	table := starlark.StringDict{
		"MINOR":  starlark.MakeInt(Minor),
		"MAJOR":  starlark.MakeInt(Major),
		"math":   starlarkmath.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for pitch, names := range pitchNames {
		for _, name := range names {
			table[name] = starlark.MakeInt(pitch)
		}
	}
	for _, dimension := range track.AllDimensions {
		table[constantName(dimension)] = starlark.String(dimension)
	}

	builtins := map[string]func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"kdtree":                                 newTreeBuiltin,
		"nearest":                                e.nearest,
		"nearest_by_track":                       e.nearest,
		"random_track":                           e.randomTrack,
		"nodes_where":                            e.nodesWhere,
		"for_each_node":                          e.forEachNode,
		"tree_size":                              e.treeSize,
		"add_logging_dimension":                  e.addLoggingDimension,
		"euclidean_distance":                     euclideanDistance,
		"non_jarring_harmonic_difference":        harmonicBuiltin(func(a, b Harmony) starlark.Value { return starlark.Float(HarmonicDifference(a, b)) }),
		"same_harmonics":                         harmonicBuiltin(func(a, b Harmony) starlark.Value { return starlark.Bool(SameHarmonics(a, b)) }),
		"same_mode_and_neighbor_key_change":      harmonicBuiltin(func(a, b Harmony) starlark.Value { return starlark.Bool(SameModeNeighborKey(a, b)) }),
		"different_mode_and_neighbor_key_change": harmonicBuiltin(func(a, b Harmony) starlark.Value { return starlark.Bool(DifferentModeNeighborKey(a, b)) }),
		"non_jarring_tempo_difference":           tempoDifference,
		"shuffle":                                e.shuffle,
		"get_random_int":                         e.getRandomInt,
		"pick_random":                            e.pickRandom,
		"roll_dice":                              e.rollDice,
		"rms":                                    rms,
		"cull_already_seen_tags":                 cullAlreadySeenTags,
		"tracks_to_points":                       tracksToPoints,
		"point_from_track":                       pointFromTrack,
		"make_point":                             makePoint,
	}
	for name, fn := range builtins {
		table[name] = starlark.NewBuiltin(name, fn)
	}
	for _, name := range forbiddenNames {
		table[name] = forbiddenBuiltin(name)
	}
	return table
}

// constantName turns a dimension into its script constant:
// timeSignature becomes TIME_SIGNATURE.
func constantName(dimension track.Dimension) string {
	var name strings.Builder
	for i, r := range string(dimension) {
		if r >= 'A' && r <= 'Z' && i > 0 {
			name.WriteByte('_')
		}
		name.WriteRune(r)
	}
	return strings.ToUpper(name.String())
}

func (e *Env) currentTree(name string) (*Tree, error) {
	if e.tree == nil {
		return nil, fmt.Errorf("%s: no tree has been built yet", name)
	}
	return e.tree, nil
}

func (e *Env) nearest(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var kValue, queryValue starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &kValue, &queryValue); err != nil {
		return nil, err
	}
	tree, err := e.currentTree(b.Name())
	if err != nil {
		return nil, err
	}
	k, err := countArg(kValue)
	if err != nil {
		return nil, fmt.Errorf("%s: k: %w", b.Name(), err)
	}
	query, err := toPoint(queryValue)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	neighbors, err := tree.index.Nearest(k, query)
	if err != nil {
		return nil, err
	}
	nodes := make([]starlark.Value, len(neighbors))
	for i, neighbor := range neighbors {
		nodes[i] = neighborNode(neighbor.Point, neighbor.Distance)
	}
	return starlark.NewList(nodes), nil
}

func (e *Env) randomTrack(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	tree, err := e.currentTree(b.Name())
	if err != nil {
		return nil, err
	}
	point, ok := tree.index.Random(e.rng)
	if !ok {
		return starlark.None, nil
	}
	return node(point), nil
}

func (e *Env) nodesWhere(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var predicate starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &predicate); err != nil {
		return nil, err
	}
	tree, err := e.currentTree(b.Name())
	if err != nil {
		return nil, err
	}
	matches, err := tree.index.Scan(func(point track.Point) (bool, error) {
		result, err := starlark.Call(thread, predicate, starlark.Tuple{NewPoint(point)}, nil)
		if err != nil {
			return false, err
		}
		return bool(result.Truth()), nil
	})
	if err != nil {
		return nil, err
	}
	nodes := make([]starlark.Value, len(matches))
	for i, point := range matches {
		nodes[i] = node(point)
	}
	return starlark.NewList(nodes), nil
}

func (e *Env) forEachNode(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	tree, err := e.currentTree(b.Name())
	if err != nil {
		return nil, err
	}
	err = tree.index.ForEach(func(point track.Point) error {
		_, err := starlark.Call(thread, fn, starlark.Tuple{NewPoint(point)}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *Env) treeSize(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if e.tree == nil {
		return starlark.MakeInt(0), nil
	}
	return starlark.MakeInt(e.tree.index.Len()), nil
}

func (e *Env) addLoggingDimension(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	dimension, err := track.ParseDimension(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if !slices.Contains(e.logging, dimension) {
		e.logging = append(e.logging, dimension)
	}
	return starlark.None, nil
}

func (e *Env) shuffle(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var list *starlark.List
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &list); err != nil {
		return nil, err
	}
	elements := make([]starlark.Value, list.Len())
	for i := range elements {
		elements[i] = list.Index(i)
	}
	e.rng.Shuffle(len(elements), func(i, j int) { elements[i], elements[j] = elements[j], elements[i] })
	for i, element := range elements {
		if err := list.SetIndex(i, element); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return list, nil
}

func (e *Env) getRandomInt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var low, high int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &low, &high); err != nil {
		return nil, err
	}
	value, err := randomInt(e.rng, int64(low), int64(high))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.MakeInt64(value), nil
}

func (e *Env) pickRandom(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var sequence starlark.Indexable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &sequence); err != nil {
		return nil, err
	}
	if sequence.Len() == 0 {
		return starlark.None, nil
	}
	return sequence.Index(e.rng.IntN(sequence.Len())), nil
}

func (e *Env) rollDice(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var minTarget, sides int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &minTarget, &sides); err != nil {
		return nil, err
	}
	return starlark.Bool(rollDice(e.rng, int64(minTarget), int64(sides))), nil
}

func floatArgs(name string, args starlark.Tuple, kwargs []starlark.Tuple) ([]float64, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", name)
	}
	values := make([]float64, len(args))
	for i, arg := range args {
		value, err := toFloat(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", name, i+1, err)
		}
		values[i] = value
	}
	return values, nil
}

func euclideanDistance(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	values, err := floatArgs(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Float(EuclideanDistance(values...)), nil
}

func rms(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	values, err := floatArgs(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Float(RMS(values...)), nil
}

func harmonyOf(value starlark.Value) (Harmony, error) {
	point, err := toPoint(value)
	if err != nil {
		return Harmony{}, err
	}
	return Harmony{Key: int(point.Key), Mode: int(point.Mode)}, nil
}

func harmonicBuiltin(compare func(a, b Harmony) starlark.Value) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var aValue, bValue starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &aValue, &bValue); err != nil {
			return nil, err
		}
		a, err := harmonyOf(aValue)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		other, err := harmonyOf(bValue)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return compare(a, other), nil
	}
}

func tempoDifference(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var aValue, bValue starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &aValue, &bValue); err != nil {
		return nil, err
	}
	a, err := toPoint(aValue)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	other, err := toPoint(bValue)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Float(TempoDifference(a.Tempo, other.Tempo)), nil
}

// cullAlreadySeenTags drops neighbors whose tag is in tags. tags may be
// a dict of tag to bool, as hooks receive it, or a set.
func cullAlreadySeenTags(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var neighbors starlark.Iterable
	var tags starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &neighbors, &tags); err != nil {
		return nil, err
	}
	seen := func(tag string) (bool, error) {
		key := starlark.String(tag)
		switch t := tags.(type) {
		case *starlark.Set:
			return t.Has(key)
		case starlark.Mapping:
			value, found, err := t.Get(key)
			if err != nil || !found {
				return false, err
			}
			return bool(value.Truth()), nil
		}
		return false, fmt.Errorf("%s: tags must be a dict or set, not %s", b.Name(), tags.Type())
	}

	var kept []starlark.Value
	iterator := neighbors.Iterate()
	defer iterator.Done()
	var element starlark.Value
	for iterator.Next(&element) {
		point, err := toPoint(element)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		already, err := seen(point.Tag)
		if err != nil {
			return nil, err
		}
		if !already {
			kept = append(kept, element)
		}
	}
	return starlark.NewList(kept), nil
}

func tracksToPoints(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var tracks starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &tracks); err != nil {
		return nil, err
	}
	points, err := pointList(tracks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	values := make([]starlark.Value, len(points))
	for i, point := range points {
		values[i] = NewPoint(point)
	}
	return starlark.NewList(values), nil
}

func pointFromTrack(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &value); err != nil {
		return nil, err
	}
	point, err := toPoint(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return NewPoint(point), nil
}

// makePoint builds a free-standing query point from dimension keyword
// arguments, for searching around an ideal rather than a track.
func makePoint(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: takes keyword arguments only", b.Name())
	}
	var point track.Point
	for _, kwarg := range kwargs {
		name := string(kwarg[0].(starlark.String))
		switch name {
		case "id":
			id, ok := starlark.AsString(kwarg[1])
			if !ok {
				return nil, fmt.Errorf("%s: id must be a string", b.Name())
			}
			point.ID = id
			continue
		case "tag":
			tag, ok := starlark.AsString(kwarg[1])
			if !ok {
				return nil, fmt.Errorf("%s: tag must be a string", b.Name())
			}
			point.Tag = tag
			continue
		}
		dimension, ok := pointAttrs[name]
		if !ok {
			return nil, fmt.Errorf("%s: unexpected keyword argument %q", b.Name(), name)
		}
		value, err := toFloat(kwarg[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", b.Name(), name, err)
		}
		point = point.With(dimension, value)
	}
	return NewPoint(point), nil
}
