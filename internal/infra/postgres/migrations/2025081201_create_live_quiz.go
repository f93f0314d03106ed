package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_live_quiz.sql
var createLiveQuizSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createLiveQuizSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS quiz_answers;
				DROP TABLE IF EXISTS quiz_participants;
				DROP TABLE IF EXISTS quiz_sessions;
				DROP TABLE IF EXISTS point_ledger;
				DROP TABLE IF EXISTS user_profiles;
				DROP TABLE IF EXISTS questions`)
			return err
		},
	)
}
