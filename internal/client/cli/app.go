package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/app"
	"github.com/dmitrijs2005/pantrysync/internal/client/cache"
	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/client/realtime"
	"github.com/dmitrijs2005/pantrysync/internal/client/services"
)

type engine interface {
	Query() cache.ListQuery
	Scope() realtime.Scope
	Mode() services.Mode
	Pending() []models.Mutation
	Sync(ctx context.Context) (services.Mode, error)
	SetActiveGroup(ctx context.Context, groupID string)
}

type recordStore interface {
	Create(ctx context.Context, in models.NewRecordInput) (models.Record, error)
	Update(ctx context.Context, id string, p models.Patch) (models.Record, error)
	ChangeStatus(ctx context.Context, id string, status models.Status) (models.Record, error)
	Delete(ctx context.Context, id string, hard bool) error
	AttachImage(ctx context.Context, id string, data []byte, mimeType, originalName string) (models.Record, error)
	List(ctx context.Context, q cache.ListQuery) (cache.ListView, error)
	Get(ctx context.Context, id string) (models.Record, error)
}

type imageResolver interface {
	Resolve(ctx context.Context, ref string) (services.Image, error)
}

type App struct {
	engine  engine
	records recordStore
	images  imageResolver
	bus     *events.Bus
	reader  *bufio.Reader
	out     io.Writer
	now     func() time.Time
}

// NewApp wraps an initialized engine. Commands read from in and print to out.
func NewApp(core *app.App, in io.Reader, out io.Writer) *App {
	return newApp(core, core.Records(), core.Images(), core.Events(), in, out)
}

func newApp(e engine, r recordStore, img imageResolver, bus *events.Bus, in io.Reader, out io.Writer) *App {
	return &App{
		engine:  e,
		records: r,
		images:  img,
		bus:     bus,
		reader:  bufio.NewReader(in),
		out:     out,
		now:     time.Now,
	}
}

func (a *App) getStatus() string {
	s := a.engine.Scope()
	status := string(a.engine.Mode())
	if status == "" {
		status = "starting"
	}
	if s.GroupID != "" {
		status += ", group " + s.GroupID
	}
	if n := len(a.engine.Pending()); n > 0 {
		status += fmt.Sprintf(", %d pending", n)
	}
	return "(" + status + ")"
}

// notify prints bus events that carry a user message.
func (a *App) notify(e events.Event) {
	if e.Message == "" {
		return
	}
	fmt.Fprintln(a.out, "!", e.Message)
}

// Root runs the REPL until the user exits, the input ends or ctx is done.
func (a *App) Root(ctx context.Context) {
	off := a.bus.OnAny(a.notify)
	defer off()

	if interactive() {
		fmt.Fprintln(a.out, "Welcome to pantrysync (type 'help' for commands)")
	}
	runREPL(ctx, a, a.getStatus, a.reader)
}
