package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

type slotRow struct {
	Key        string `db:"slot_key"`
	Day        int    `db:"day"`
	Hour       int    `db:"hour"`
	TargetType string `db:"target_type"`
	TargetID   string `db:"target_id"`
}

func (s *sqlStore) LoadScheduleGrid(ctx context.Context) (model.ScheduleGrid, error) {
	var rows []slotRow
	const q = `
	SELECT slot_key, day, hour, target_type, target_id
	  FROM schedule_slots
	 ORDER BY day, hour;`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		log.Error().Err(err).Msg("LoadScheduleGrid: failed to select slots")
		return model.ScheduleGrid{}, err
	}

	grid := model.ScheduleGrid{Slots: make([]model.ScheduleSlot, 0, len(rows))}
	for _, r := range rows {
		grid.Slots = append(grid.Slots, model.ScheduleSlot{
			Day:  r.Day,
			Hour: r.Hour,
			Target: model.ContentTarget{
				Type: model.TargetType(r.TargetType),
				ID:   r.TargetID,
			},
		})
	}

	var def []model.ContentTarget
	if err := s.db.SelectContext(ctx, &def, `SELECT target_type, target_id FROM schedule_default WHERE id = 1;`); err != nil {
		log.Error().Err(err).Msg("LoadScheduleGrid: failed to select default target")
		return model.ScheduleGrid{}, err
	}
	if len(def) == 1 {
		grid.Default = &def[0]
	}
	return grid, nil
}

func (s *sqlStore) SaveSlot(ctx context.Context, slot model.ScheduleSlot) error {
	if !model.ValidSlot(slot.Day, slot.Hour) {
		return fmt.Errorf("slot %d-%d out of range", slot.Day, slot.Hour)
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO schedule_slots (slot_key, day, hour, target_type, target_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (slot_key) DO UPDATE
		   SET target_type = excluded.target_type,
		       target_id   = excluded.target_id;`),
		slot.Key(), slot.Day, slot.Hour, string(slot.Target.Type), slot.Target.ID,
	)
	if err != nil {
		log.Error().Err(err).Str("slot", slot.Key()).Msg("SaveSlot failed")
	}
	return err
}

func (s *sqlStore) DeleteSlot(ctx context.Context, day, hour int) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM schedule_slots WHERE slot_key = ?;`), model.SlotKey(day, hour))
	if err != nil {
		log.Error().Err(err).Str("slot", model.SlotKey(day, hour)).Msg("DeleteSlot failed")
	}
	return err
}

// SaveDefaultTarget stores the fallback target; nil clears it.
func (s *sqlStore) SaveDefaultTarget(ctx context.Context, target *model.ContentTarget) error {
	var err error
	if target == nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM schedule_default WHERE id = 1;`)
	} else {
		_, err = s.db.ExecContext(ctx, s.q(`
			INSERT INTO schedule_default (id, target_type, target_id)
			VALUES (1, ?, ?)
			ON CONFLICT (id) DO UPDATE
			   SET target_type = excluded.target_type,
			       target_id   = excluded.target_id;`),
			string(target.Type), target.ID,
		)
	}
	if err != nil {
		log.Error().Err(err).Msg("SaveDefaultTarget failed")
	}
	return err
}
