// Package sqlite provides a SQLite-backed entity store for the GM client,
// which owns the authoritative copy of effect records and templates.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/platform/id"
	"github.com/wawful/spell-sustainer/internal/platform/storage/sqlitemigrate"
	"github.com/wawful/spell-sustainer/internal/store"
	"github.com/wawful/spell-sustainer/internal/store/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed entity store.
type Store struct {
	sqlDB  *sql.DB
	events store.Events
}

// Open opens a SQLite store at the provided path and applies migrations.
func Open(path string, events store.Events) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if events == nil {
		events = store.NopEvents{}
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, events: events}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Actor(ctx context.Context, actorID string) (game.Actor, error) {
	var actor game.Actor
	err := s.sqlDB.QueryRowContext(ctx, "SELECT id, name FROM actors WHERE id = ?", actorID).
		Scan(&actor.ID, &actor.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Actor{}, store.ErrNotFound
	}
	if err != nil {
		return game.Actor{}, fmt.Errorf("query actor: %w", err)
	}
	return actor, nil
}

func (s *Store) PutActor(ctx context.Context, actor game.Actor) error {
	_, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO actors (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name",
		actor.ID, actor.Name)
	if err != nil {
		return fmt.Errorf("put actor: %w", err)
	}
	return nil
}

func (s *Store) Actors(ctx context.Context) ([]game.Actor, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT id, name FROM actors ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query actors: %w", err)
	}
	defer rows.Close()

	var actors []game.Actor
	for rows.Next() {
		var actor game.Actor
		if err := rows.Scan(&actor.ID, &actor.Name); err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		actors = append(actors, actor)
	}
	return actors, rows.Err()
}

func (s *Store) Item(ctx context.Context, ref string) (game.Item, error) {
	var item game.Item
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT ref, name, kind, level, description FROM items WHERE ref = ?", ref).
		Scan(&item.Ref, &item.Name, &item.Kind, &item.Level, &item.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Item{}, store.ErrNotFound
	}
	if err != nil {
		return game.Item{}, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

func (s *Store) PutItem(ctx context.Context, item game.Item) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO items (ref, name, kind, level, description) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(ref) DO UPDATE SET name = excluded.name, kind = excluded.kind,
    level = excluded.level, description = excluded.description`,
		item.Ref, item.Name, item.Kind, item.Level, item.Description)
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func (s *Store) PutToken(ctx context.Context, token game.Token) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO tokens (id, scene_id, actor_id, disposition, x, y) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET scene_id = excluded.scene_id, actor_id = excluded.actor_id,
    disposition = excluded.disposition, x = excluded.x, y = excluded.y`,
		token.ID, token.SceneID, token.ActorID, int(token.Disposition), token.Position.X, token.Position.Y)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

func (s *Store) TokenFor(ctx context.Context, actorID string) (game.Token, error) {
	var token game.Token
	var disposition int
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, scene_id, actor_id, disposition, x, y FROM tokens WHERE actor_id = ? ORDER BY id LIMIT 1",
		actorID).
		Scan(&token.ID, &token.SceneID, &token.ActorID, &disposition, &token.Position.X, &token.Position.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Token{}, store.ErrNotFound
	}
	if err != nil {
		return game.Token{}, fmt.Errorf("query token: %w", err)
	}
	token.Disposition = game.Disposition(disposition)
	return token, nil
}

func (s *Store) EffectsFor(ctx context.Context, actorID string) ([]game.Effect, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, actor_id, slug, name, description, duration_rounds, cast_level,
       badge_value, sustained_by, sustain_json
FROM effects WHERE actor_id = ? ORDER BY id`, actorID)
	if err != nil {
		return nil, fmt.Errorf("query effects: %w", err)
	}
	defer rows.Close()

	var effects []game.Effect
	for rows.Next() {
		eff, err := scanEffect(rows)
		if err != nil {
			return nil, err
		}
		effects = append(effects, eff)
	}
	return effects, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEffect(row rowScanner) (game.Effect, error) {
	var eff game.Effect
	var sustainJSON sql.NullString
	err := row.Scan(&eff.ID, &eff.ActorID, &eff.Slug, &eff.Name, &eff.Description,
		&eff.DurationRounds, &eff.CastLevel, &eff.BadgeValue, &eff.SustainedBy, &sustainJSON)
	if err != nil {
		return game.Effect{}, fmt.Errorf("scan effect: %w", err)
	}
	if sustainJSON.Valid && sustainJSON.String != "" {
		var flags game.SustainFlags
		if err := json.Unmarshal([]byte(sustainJSON.String), &flags); err != nil {
			return game.Effect{}, fmt.Errorf("decode sustain flags: %w", err)
		}
		eff.Sustain = &flags
	}
	return eff, nil
}

func (s *Store) EffectByRef(ctx context.Context, ref string) (game.Effect, error) {
	actorID, effectID, ok := game.ParseEffectRef(ref)
	if !ok {
		return game.Effect{}, store.ErrNotFound
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, actor_id, slug, name, description, duration_rounds, cast_level,
       badge_value, sustained_by, sustain_json
FROM effects WHERE actor_id = ? AND id = ?`, actorID, effectID)
	eff, err := scanEffect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Effect{}, store.ErrNotFound
	}
	if err != nil {
		return game.Effect{}, err
	}
	return eff, nil
}

func (s *Store) CreateEffects(ctx context.Context, actorID string, effects []game.Effect) ([]game.Effect, error) {
	if _, err := s.Actor(ctx, actorID); err != nil {
		return nil, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	created := make([]game.Effect, 0, len(effects))
	for _, eff := range effects {
		effectID, err := id.NewID()
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("assign effect id: %w", err)
		}
		eff.ID = effectID
		eff.ActorID = actorID

		sustainJSON, err := encodeSustain(eff.Sustain)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO effects (id, actor_id, slug, name, description, duration_rounds,
                     cast_level, badge_value, sustained_by, sustain_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			eff.ID, eff.ActorID, eff.Slug, eff.Name, eff.Description, eff.DurationRounds,
			eff.CastLevel, eff.BadgeValue, eff.SustainedBy, sustainJSON); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("insert effect: %w", err)
		}
		created = append(created, eff)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit effects: %w", err)
	}

	for _, eff := range created {
		s.events.EffectCreated(eff)
	}
	return created, nil
}

func encodeSustain(flags *game.SustainFlags) (sql.NullString, error) {
	if flags == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(flags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode sustain flags: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func (s *Store) UpdateEffect(ctx context.Context, effect game.Effect) error {
	sustainJSON, err := encodeSustain(effect.Sustain)
	if err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE effects SET slug = ?, name = ?, description = ?, duration_rounds = ?,
    cast_level = ?, badge_value = ?, sustained_by = ?, sustain_json = ?
WHERE actor_id = ? AND id = ?`,
		effect.Slug, effect.Name, effect.Description, effect.DurationRounds,
		effect.CastLevel, effect.BadgeValue, effect.SustainedBy, sustainJSON,
		effect.ActorID, effect.ID)
	if err != nil {
		return fmt.Errorf("update effect: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update effect rows: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	s.events.EffectUpdated(effect)
	return nil
}

func (s *Store) DeleteEffects(ctx context.Context, actorID string, effectIDs []string) error {
	deleted := make([]game.Effect, 0, len(effectIDs))
	for _, effectID := range effectIDs {
		eff, err := s.EffectByRef(ctx, game.EffectRef(actorID, effectID))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := s.sqlDB.ExecContext(ctx,
			"DELETE FROM effects WHERE actor_id = ? AND id = ?", actorID, effectID); err != nil {
			return fmt.Errorf("delete effect: %w", err)
		}
		deleted = append(deleted, eff)
	}
	for _, eff := range deleted {
		s.events.EffectDeleted(eff)
	}
	return nil
}

func (s *Store) CreateTemplate(ctx context.Context, tpl game.Template) (game.Template, error) {
	templateID, err := id.NewID()
	if err != nil {
		return game.Template{}, fmt.Errorf("assign template id: %w", err)
	}
	tpl.ID = templateID
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO templates (id, scene_id, shape, distance, angle, width, x, y, sustained_by)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tpl.ID, tpl.SceneID, string(tpl.Spec.Shape), tpl.Spec.Distance, tpl.Spec.Angle,
		tpl.Spec.Width, tpl.Position.X, tpl.Position.Y, tpl.SustainedBy)
	if err != nil {
		return game.Template{}, fmt.Errorf("insert template: %w", err)
	}
	return tpl, nil
}

func (s *Store) Template(ctx context.Context, templateID string) (game.Template, error) {
	var tpl game.Template
	var shape string
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, scene_id, shape, distance, angle, width, x, y, sustained_by
FROM templates WHERE id = ?`, templateID).
		Scan(&tpl.ID, &tpl.SceneID, &shape, &tpl.Spec.Distance, &tpl.Spec.Angle,
			&tpl.Spec.Width, &tpl.Position.X, &tpl.Position.Y, &tpl.SustainedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Template{}, store.ErrNotFound
	}
	if err != nil {
		return game.Template{}, fmt.Errorf("query template: %w", err)
	}
	tpl.Spec.Shape = game.TemplateShape(shape)
	return tpl, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, tpl game.Template) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE templates SET scene_id = ?, shape = ?, distance = ?, angle = ?, width = ?,
    x = ?, y = ?, sustained_by = ?
WHERE id = ?`,
		tpl.SceneID, string(tpl.Spec.Shape), tpl.Spec.Distance, tpl.Spec.Angle,
		tpl.Spec.Width, tpl.Position.X, tpl.Position.Y, tpl.SustainedBy, tpl.ID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template rows: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTemplate(ctx context.Context, templateID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", templateID); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}
