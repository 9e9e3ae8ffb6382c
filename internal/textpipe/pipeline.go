// Package textpipe is the staged text-cleanup engine. A pipeline runs an
// ordered list of stages over a mutable context; the registry decides the
// default order and supports insertion anchors.
package textpipe

// Context is the mutable state threaded through the stages.
type Context struct {
	Text     string
	Stats    map[string]int
	Metadata map[string]interface{}
	Original string
}

// NewContext seeds a context for the given input.
func NewContext(text string) *Context {
	return &Context{
		Text:     text,
		Stats:    make(map[string]int),
		Metadata: make(map[string]interface{}),
		Original: text,
	}
}

// SetText replaces the working text.
func (c *Context) SetText(text string) {
	c.Text = text
}

// AddStat increments a counter.
func (c *Context) AddStat(key string, value int) {
	c.Stats[key] += value
}

// SetStat overwrites a counter.
func (c *Context) SetStat(key string, value int) {
	c.Stats[key] = value
}

// Stat reads a counter, defaulting to zero.
func (c *Context) Stat(key string) int {
	return c.Stats[key]
}

// Stage is one transformation step.
type Stage interface {
	Name() string
	Apply(ctx *Context)
}

// Result is what a pipeline run produces.
type Result struct {
	Text    string
	Stats   map[string]int
	Context *Context
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a pipeline from an explicit stage list, bypassing any
// registry.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: append([]Stage(nil), stages...)}
}

// Stages returns the stage list in order.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Run applies every stage in order and returns the final text plus stats.
func (p *Pipeline) Run(text string) Result {
	ctx := NewContext(text)
	for _, stage := range p.stages {
		stage.Apply(ctx)
	}
	stats := make(map[string]int, len(ctx.Stats))
	for k, v := range ctx.Stats {
		stats[k] = v
	}
	return Result{Text: ctx.Text, Stats: stats, Context: ctx}
}
