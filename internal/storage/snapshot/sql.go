package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"OrchestratorSiphon/deploy/migrations"
	"OrchestratorSiphon/internal/siphon"
	"OrchestratorSiphon/internal/web3"
)

// SQLConfig 描述数据库连接。Driver 取值 mysql、postgres 或 sqlite。
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore 每个 tick 覆盖写一行引擎状态与每个账户一行。
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

type dialect struct {
	name string
	// upsert 生成 INSERT ... 冲突时更新 的语句。
	upsert func(table, key string, columns []string) string
	rebind func(query string) string
}

var dialects = map[string]dialect{
	"mysql": {
		name: "mysql",
		upsert: func(table, key string, columns []string) string {
			sets := make([]string, 0, len(columns))
			for _, c := range columns {
				if c != key {
					sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
				}
			}
			return insertPrefix(table, columns) + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
		},
		rebind: func(q string) string { return q },
	},
	"postgres": {
		name:   "postgres",
		upsert: onConflictUpsert,
		rebind: dollarPlaceholders,
	},
	"sqlite": {
		name:   "sqlite",
		upsert: onConflictUpsert,
		rebind: func(q string) string { return q },
	},
}

func insertPrefix(table string, columns []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)
}

func onConflictUpsert(table, key string, columns []string) string {
	sets := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != key {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return insertPrefix(table, columns) + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET ", key) + strings.Join(sets, ", ")
}

func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	engineColumns = []string{
		"id", "round_number", "round_locked", "round_refreshed_at",
		"ticks", "last_tick", "paused", "dry_run", "taken_at",
	}
	accountColumns = []string{
		"address", "name", "fee_receiver", "stake_receiver", "call_reward",
		"pending_stake_wei", "stake_refreshed_at",
		"pending_fees_wei", "fees_refreshed_at",
		"wallet_balance_wei", "balance_refreshed_at",
		"last_claimed_round", "reward_refreshed_at", "updated_at",
	}
)

// NewSQLStore 打开连接并执行迁移。
func NewSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, storeError(fmt.Errorf("driver %q", cfg.Driver), "不支持的数据库驱动")
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &SQLStore{db: db, dialect: d}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openDatabase(ctx context.Context, cfg SQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, storeError(fmt.Errorf("driver %s", cfg.Driver), "数据库 DSN 不能为空")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, storeError(err, fmt.Sprintf("连接 %s 失败", cfg.Driver))
	}

	if cfg.Driver == "sqlite" {
		// SQLite 只允许单写者。
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(4)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storeError(err, fmt.Sprintf("无法连接到 %s", cfg.Driver))
	}
	return db, nil
}

// Close 释放连接池。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save 在一个事务内写入引擎状态与全部账户。
func (s *SQLStore) Save(ctx context.Context, snap siphon.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(err, "开启快照事务失败")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	engineQuery := s.dialect.rebind(s.dialect.upsert("siphon_engine", "id", engineColumns))
	if _, err = tx.ExecContext(ctx, engineQuery,
		1, int64(snap.Round.Round), snap.Round.Locked, unixNano(snap.Round.RefreshedAt),
		int64(snap.Ticks), unixNano(snap.LastTick), snap.Paused, snap.DryRun, unixNano(snap.TakenAt),
	); err != nil {
		return storeError(err, "保存引擎状态失败")
	}

	accountQuery := s.dialect.rebind(s.dialect.upsert("siphon_accounts", "address", accountColumns))
	updatedAt := unixNano(snap.TakenAt)
	for _, acct := range snap.Accounts {
		if _, err = tx.ExecContext(ctx, accountQuery,
			acct.Address, acct.Name, acct.FeeReceiver, acct.StakeReceiver, acct.CallReward,
			acct.PendingStake.Wei, unixNano(acct.PendingStake.RefreshedAt),
			acct.PendingFees.Wei, unixNano(acct.PendingFees.RefreshedAt),
			acct.WalletBalance.Wei, unixNano(acct.WalletBalance.RefreshedAt),
			int64(acct.LastClaimedRound.Round), unixNano(acct.LastClaimedRound.RefreshedAt),
			updatedAt,
		); err != nil {
			return storeError(err, fmt.Sprintf("保存账户 %s 失败", acct.Name))
		}
	}

	if err = tx.Commit(); err != nil {
		return storeError(err, "提交快照事务失败")
	}
	return nil
}

// Load 读取最近保存的快照。Stale 不落库，读取时总为 false。
func (s *SQLStore) Load(ctx context.Context) (siphon.Snapshot, bool, error) {
	var (
		snap                       siphon.Snapshot
		roundAt, lastTick, takenAt int64
		locked, paused, dryRun     bool
	)
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT round_number, round_locked, round_refreshed_at, ticks, last_tick, paused, dry_run, taken_at
FROM siphon_engine WHERE id = ?`), 1)
	if err := row.Scan(&snap.Round.Round, &locked, &roundAt, &snap.Ticks, &lastTick, &paused, &dryRun, &takenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return siphon.Snapshot{}, false, nil
		}
		return siphon.Snapshot{}, false, storeError(err, "查询引擎状态失败")
	}
	snap.Round.Locked = locked
	snap.Round.RefreshedAt = fromUnixNano(roundAt)
	snap.Round.Fetched = roundAt != 0
	snap.LastTick = fromUnixNano(lastTick)
	snap.TakenAt = fromUnixNano(takenAt)
	snap.Paused = paused
	snap.DryRun = dryRun

	rows, err := s.db.QueryContext(ctx, `SELECT `+strings.Join(accountColumns[:len(accountColumns)-1], ", ")+` FROM siphon_accounts ORDER BY name`)
	if err != nil {
		return siphon.Snapshot{}, false, storeError(err, "查询账户快照失败")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			acct                                 siphon.AccountSnapshot
			stakeWei, feesWei, balanceWei        string
			stakeAt, feesAt, balanceAt, rewardAt int64
		)
		if err := rows.Scan(&acct.Address, &acct.Name, &acct.FeeReceiver, &acct.StakeReceiver, &acct.CallReward,
			&stakeWei, &stakeAt, &feesWei, &feesAt, &balanceWei, &balanceAt,
			&acct.LastClaimedRound.Round, &rewardAt); err != nil {
			return siphon.Snapshot{}, false, storeError(err, "解析账户快照失败")
		}
		acct.PendingStake = amountFromColumns(stakeWei, stakeAt)
		acct.PendingFees = amountFromColumns(feesWei, feesAt)
		acct.WalletBalance = amountFromColumns(balanceWei, balanceAt)
		acct.LastClaimedRound.RefreshedAt = fromUnixNano(rewardAt)
		acct.LastClaimedRound.Fetched = rewardAt != 0
		snap.Accounts = append(snap.Accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return siphon.Snapshot{}, false, storeError(err, "遍历账户快照失败")
	}
	return snap, true, nil
}

func amountFromColumns(wei string, refreshedAt int64) siphon.AmountView {
	view := siphon.AmountView{
		Wei:         wei,
		Fetched:     refreshedAt != 0,
		RefreshedAt: fromUnixNano(refreshedAt),
	}
	if value, ok := new(big.Int).SetString(wei, 10); ok {
		view.Amount = web3.FormatAmount(value)
	}
	return view
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *SQLStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return storeError(err, "创建 schema_migrations 表失败")
	}

	applied, err := s.loadAppliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := loadMigrationFiles(s.dialect.name)
	if err != nil {
		return err
	}
	for _, migration := range files {
		if _, ok := applied[migration.version]; ok {
			continue
		}
		if err := s.applyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

type migrationFile struct {
	version    string
	name       string
	statements []string
}

func (s *SQLStore) loadAppliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, storeError(err, "查询 schema_migrations 失败")
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, storeError(err, "解析 schema_migrations 失败")
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "遍历 schema_migrations 失败")
	}
	return applied, nil
}

func (s *SQLStore) applyMigration(ctx context.Context, migration migrationFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(err, "开启迁移事务失败")
	}
	for _, stmt := range migration.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return storeError(err, fmt.Sprintf("执行迁移 %s 失败", migration.name))
		}
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`),
		migration.version, time.Now().Unix()); err != nil {
		tx.Rollback()
		return storeError(err, "记录迁移版本失败")
	}
	if err := tx.Commit(); err != nil {
		return storeError(err, "提交迁移事务失败")
	}
	return nil
}

func loadMigrationFiles(dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrations.Files, dir)
	if err != nil {
		return nil, storeError(err, "读取迁移目录失败")
	}

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		content, err := migrations.Files.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, storeError(err, fmt.Sprintf("读取迁移文件 %s 失败", name))
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		files = append(files, migrationFile{
			version:    parseMigrationVersion(name),
			name:       name,
			statements: statements,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func parseMigrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	return strings.TrimSuffix(name, ".sql")
}
