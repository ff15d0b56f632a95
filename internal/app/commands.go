package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"application_stats_bot/internal/domain/chat"
	"application_stats_bot/internal/domain/store"
	"application_stats_bot/internal/infra/telemetry"

	"github.com/sirupsen/logrus"
)

const (
	defaultQueryLimit  = 10
	maxQueryLimit      = 50
	attachAboveResults = 5
	embedColorHelp     = 0x0099FF
)

// FailureReply is the only detail a user sees when a command fails.
const FailureReply = "There was an error executing that command."

// Request is an inbound chat message that may carry a command.
type Request struct {
	Content     string
	AuthorID    string
	AuthorIsBot bool
	ChannelID   string
	SentAt      time.Time
}

// Reply is what the dispatcher wants sent back to the author.
type Reply struct {
	Content string
	Embed   *chat.Embed
	Files   []chat.Attachment
}

type handlerFunc func(ctx context.Context, req *Request, args []string) (*Reply, error)

// Command is one entry of the dispatch table.
type Command struct {
	Name        string
	Description string
	Usage       string
	handler     handlerFunc
}

// DispatcherConfig wires the dispatcher's collaborators.
type DispatcherConfig struct {
	Prefix     string
	Store      store.Store
	EmailField string
	// Latency reports the gateway heartbeat latency, if known.
	Latency func() time.Duration
}

// Dispatcher maps prefixed messages to a fixed set of commands built at construction.
type Dispatcher struct {
	prefix     string
	store      store.Store
	emailField string
	latency    func() time.Duration
	now        func() time.Time
	logger     *logrus.Entry

	commands map[string]*Command
	order    []*Command
}

func NewDispatcher(cfg DispatcherConfig, logger *logrus.Entry) *Dispatcher {
	d := &Dispatcher{
		prefix:     cfg.Prefix,
		store:      cfg.Store,
		emailField: cfg.EmailField,
		latency:    cfg.Latency,
		now:        time.Now,
		logger:     logger,
	}
	if d.latency == nil {
		d.latency = func() time.Duration { return 0 }
	}

	d.order = []*Command{
		{Name: "help", Description: "List available commands", Usage: "help", handler: d.help},
		{Name: "ping", Description: "Check if the bot is responding", Usage: "ping", handler: d.ping},
		{Name: "collections", Description: "List all collections in the document store", Usage: "collections", handler: d.collections},
		{Name: "query", Description: "Query documents from a collection", Usage: "query <collection> [limit=10]", handler: d.query},
		{Name: "get", Description: "Get a specific document", Usage: "get <collection> <documentId>", handler: d.get},
		{Name: "find", Description: "Find the first document whose field matches a value", Usage: "find <collection> <field> <value>", handler: d.find},
		{Name: "app", Description: "Look up an application by applicant email", Usage: "app <email>", handler: d.application},
	}
	d.commands = make(map[string]*Command, len(d.order))
	for _, c := range d.order {
		d.commands[c.Name] = c
	}
	return d
}

// Commands returns the dispatch table in help order.
func (d *Dispatcher) Commands() []*Command {
	return d.order
}

// Dispatch handles one message. It returns nil when the message is not a command.
// Errors and panics inside a command are turned into a generic reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (reply *Reply) {
	if req.AuthorIsBot || !strings.HasPrefix(req.Content, d.prefix) {
		return nil
	}
	args := strings.Fields(req.Content[len(d.prefix):])
	if len(args) == 0 {
		return nil
	}
	name := strings.ToLower(args[0])
	args = args[1:]

	log := d.logger.WithFields(logrus.Fields{
		"command":    name,
		"author_id":  req.AuthorID,
		"channel_id": req.ChannelID,
	})

	cmd, ok := d.commands[name]
	if !ok {
		log.Debug("Unknown command")
		telemetry.Commands.WithLabelValues("unknown", "unknown").Inc()
		return &Reply{Content: fmt.Sprintf("Unknown command: %s. Use %shelp to see available commands.", name, d.prefix)}
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Command panicked")
			telemetry.Commands.WithLabelValues(name, "error").Inc()
			reply = &Reply{Content: FailureReply}
		}
	}()

	log.Info("Command received")
	reply, err := cmd.handler(ctx, req, args)
	if err != nil {
		log.WithError(err).Error("Command failed")
		telemetry.Commands.WithLabelValues(name, "error").Inc()
		return &Reply{Content: FailureReply}
	}
	telemetry.Commands.WithLabelValues(name, "ok").Inc()
	return reply
}

func (d *Dispatcher) usage(cmd string) string {
	return d.prefix + d.commands[cmd].Usage
}

func (d *Dispatcher) help(_ context.Context, _ *Request, _ []string) (*Reply, error) {
	e := &chat.Embed{
		Title:       "Available Commands",
		Description: "Command prefix: " + d.prefix,
		Color:       embedColorHelp,
	}
	for _, c := range d.order {
		e.Fields = append(e.Fields, chat.EmbedField{
			Name:  d.prefix + c.Name,
			Value: fmt.Sprintf("%s\nUsage: %s%s", c.Description, d.prefix, c.Usage),
		})
	}
	return &Reply{Embed: e}, nil
}

func (d *Dispatcher) ping(_ context.Context, req *Request, _ []string) (*Reply, error) {
	botLatency := d.now().Sub(req.SentAt)
	if req.SentAt.IsZero() || botLatency < 0 {
		botLatency = 0
	}
	return &Reply{Content: fmt.Sprintf("Pong! Bot latency: %dms | API Latency: %dms", botLatency.Milliseconds(), d.latency().Milliseconds())}, nil
}

func (d *Dispatcher) collections(ctx context.Context, _ *Request, _ []string) (*Reply, error) {
	names, err := d.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	if len(names) == 0 {
		return &Reply{Content: "No collections found in the document store."}, nil
	}
	lines := make([]string, len(names))
	for i, n := range names {
		lines[i] = "- " + n
	}
	return &Reply{Embed: &chat.Embed{
		Title:       "Collections",
		Description: strings.Join(lines, "\n"),
		Color:       documentColor,
		Timestamp:   d.now(),
	}}, nil
}

func (d *Dispatcher) query(ctx context.Context, _ *Request, args []string) (*Reply, error) {
	if len(args) < 1 {
		return &Reply{Content: "Please specify a collection name. Usage: " + d.usage("query")}, nil
	}
	collection := args[0]
	limit := defaultQueryLimit
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			limit = n
		}
	}
	if limit < 1 || limit > maxQueryLimit {
		return &Reply{Content: fmt.Sprintf("Limit must be between 1 and %d documents.", maxQueryLimit)}, nil
	}

	total, err := d.store.Count(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	docs, err := d.store.List(ctx, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	if len(docs) == 0 {
		return &Reply{Content: "No documents found in collection: " + collection}, nil
	}

	e := &chat.Embed{
		Title:       "Collection: " + collection,
		Description: fmt.Sprintf("Found %d documents. Showing up to %d.", total, len(docs)),
		Color:       documentColor,
	}
	for i, doc := range docs {
		if i == maxEmbedFields {
			e.Footer = fmt.Sprintf("Showing %d/%d documents. The attachment has all of them.", maxEmbedFields, len(docs))
			break
		}
		name := doc.ID
		if name == "" {
			name = fmt.Sprintf("Document %d", i+1)
		}
		e.Fields = append(e.Fields, chat.EmbedField{Name: "📄 " + name, Value: documentPreview(doc)})
	}

	reply := &Reply{Embed: e}
	if len(docs) > attachAboveResults {
		raw, err := documentsJSON(docs...)
		if err != nil {
			return nil, fmt.Errorf("failed to encode documents: %w", err)
		}
		reply.Content = "Here are the documents from " + collection + ":"
		reply.Files = []chat.Attachment{{Name: collection + ".json", ContentType: "application/json", Data: raw}}
	}
	return reply, nil
}

func (d *Dispatcher) get(ctx context.Context, _ *Request, args []string) (*Reply, error) {
	if len(args) < 2 {
		return &Reply{Content: "Please specify both collection name and document ID. Usage: " + d.usage("get")}, nil
	}
	collection, id := args[0], args[1]
	doc, err := d.store.GetByID(ctx, collection, id)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return &Reply{Content: fmt.Sprintf("Document not found: %s/%s", collection, id)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return documentReply(collection, doc)
}

func (d *Dispatcher) find(ctx context.Context, _ *Request, args []string) (*Reply, error) {
	if len(args) < 3 {
		return &Reply{Content: "Please specify a collection, a field and a value. Usage: " + d.usage("find")}, nil
	}
	collection, field, value := args[0], args[1], strings.Join(args[2:], " ")
	return d.lookup(ctx, collection, field, value)
}

func (d *Dispatcher) application(ctx context.Context, _ *Request, args []string) (*Reply, error) {
	if len(args) != 1 {
		return &Reply{Content: "Please specify an applicant email. Usage: " + d.usage("app")}, nil
	}
	return d.lookup(ctx, store.CollectionApplications, d.emailField, args[0])
}

func (d *Dispatcher) lookup(ctx context.Context, collection, field, value string) (*Reply, error) {
	doc, err := d.store.GetByField(ctx, collection, field, value)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return &Reply{Content: fmt.Sprintf("No document in %s where %s = %s", collection, field, value)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s by %s: %w", collection, field, err)
	}
	return documentReply(collection, doc)
}

func documentReply(collection string, doc *store.Document) (*Reply, error) {
	raw, err := documentsJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return &Reply{
		Embed: documentEmbed(collection, doc),
		Files: []chat.Attachment{{Name: doc.ID + ".json", ContentType: "application/json", Data: raw}},
	}, nil
}
