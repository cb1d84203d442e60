package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

// applySnapshotScript writes a ticket type hash only when the incoming version
// is newer than the stored one, so redelivered or reordered updates are ignored.
//
// KEYS[1] ticket type hash, KEYS[2] per-event index set
// ARGV[1] version, ARGV[2] ticket type id, ARGV[3..] field/value pairs
var applySnapshotScript = redis.NewScript(`
	local current = redis.call("HGET", KEYS[1], "version")
	if current and tonumber(current) >= tonumber(ARGV[1]) then
		return 0
	end
	redis.call("HSET", KEYS[1], unpack(ARGV, 3))
	redis.call("SADD", KEYS[2], ARGV[2])
	return 1
`)

// CatalogEntry is the read-model view of one ticket type.
type CatalogEntry struct {
	TicketTypeID string `json:"ticketTypeId"`
	EventID      string `json:"eventId"`
	Name         string `json:"name"`
	PriceCents   int64  `json:"priceCents"`
	Currency     string `json:"currency"`
	Capacity     int    `json:"capacity"`
	Sold         int    `json:"sold"`
	Remaining    int    `json:"remaining"`
	Version      int    `json:"version"`
}

// CatalogStore keeps the ticket type catalog projection in Redis.
type CatalogStore struct {
	client *redis.Client
	prefix string
}

func NewCatalogStore(client *redis.Client, prefix string) *CatalogStore {
	if prefix == "" {
		prefix = "catalog"
	}
	return &CatalogStore{client: client, prefix: prefix}
}

func (s *CatalogStore) ticketTypeKey(id string) string {
	return fmt.Sprintf("%s:ticket-type:%s", s.prefix, id)
}

func (s *CatalogStore) eventKey(eventID string) string {
	return fmt.Sprintf("%s:event:%s:ticket-types", s.prefix, eventID)
}

// Apply stores snap unless a same or newer version is already projected.
// It reports whether the snapshot was written.
func (s *CatalogStore) Apply(ctx context.Context, snap event.TicketTypeSnapshot) (bool, error) {
	remaining := max(snap.Capacity-snap.Sold, 0)
	args := []any{
		snap.Version,
		snap.TicketTypeID,
		"ticketTypeId", snap.TicketTypeID,
		"eventId", snap.EventID,
		"name", snap.Name,
		"priceCents", snap.PriceCents,
		"currency", snap.Currency,
		"capacity", snap.Capacity,
		"sold", snap.Sold,
		"remaining", remaining,
		"version", snap.Version,
	}

	res, err := applySnapshotScript.Run(ctx, s.client,
		[]string{s.ticketTypeKey(snap.TicketTypeID), s.eventKey(snap.EventID)}, args...,
	).Int()
	if err != nil {
		return false, fmt.Errorf("apply catalog snapshot %s: %w", snap.TicketTypeID, err)
	}
	return res == 1, nil
}

// Get returns one projected ticket type.
func (s *CatalogStore) Get(ctx context.Context, ticketTypeID string) (*CatalogEntry, error) {
	fields, err := s.client.HGetAll(ctx, s.ticketTypeKey(ticketTypeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get catalog entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, domainErrors.ErrTicketTypeNotFound
	}
	return parseEntry(fields)
}

// ListByEvent returns every projected ticket type of an event ordered by name.
func (s *CatalogStore) ListByEvent(ctx context.Context, eventID string) ([]CatalogEntry, error) {
	ids, err := s.client.SMembers(ctx, s.eventKey(eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list catalog index: %w", err)
	}
	if len(ids) == 0 {
		return []CatalogEntry{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.ticketTypeKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load catalog entries: %w", err)
	}

	entries := make([]CatalogEntry, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		e, err := parseEntry(fields)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name == entries[j].Name {
			return entries[i].TicketTypeID < entries[j].TicketTypeID
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Ping reports whether Redis is reachable.
func (s *CatalogStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func parseEntry(f map[string]string) (*CatalogEntry, error) {
	e := &CatalogEntry{
		TicketTypeID: f["ticketTypeId"],
		EventID:      f["eventId"],
		Name:         f["name"],
		Currency:     f["currency"],
	}
	var err error
	if e.PriceCents, err = strconv.ParseInt(f["priceCents"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse priceCents of %s: %w", e.TicketTypeID, err)
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"capacity", &e.Capacity},
		{"sold", &e.Sold},
		{"remaining", &e.Remaining},
		{"version", &e.Version},
	}
	for _, n := range ints {
		if *n.dst, err = strconv.Atoi(f[n.name]); err != nil {
			return nil, fmt.Errorf("parse %s of %s: %w", n.name, e.TicketTypeID, err)
		}
	}
	return e, nil
}
