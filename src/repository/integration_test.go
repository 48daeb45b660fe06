package repository_test

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"positionmanager/src/model"
	"positionmanager/src/repository"
)

// helper to create a new in memory gorm DB and migrate schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in memory db: %v", err)
	}

	if err := db.AutoMigrate(
		&model.Position{},
		&model.TakeProfitLevel{},
		&model.StopLoss{},
		&model.Signal{},
		&model.PartialCloseEvent{},
		&model.User{},
		&model.UserExchange{},
	); err != nil {
		t.Fatalf("failed to automigrate: %v", err)
	}

	return db
}

func newOpenPosition(positionID, signalID string, userID uint) *model.Position {
	return &model.Position{
		PositionID:        positionID,
		UserID:            userID,
		SignalID:          signalID,
		Symbol:            "BTCUSDT",
		Side:              model.SideLong,
		MarketType:        model.MarketTypeFutures,
		EntryPrice:        100,
		Quantity:          10,
		RemainingQuantity: 10,
		Leverage:          1,
		Status:            model.PositionStatusOpen,
	}
}

func TestPositionRepository_CreateAndLoadWithAssociations(t *testing.T) {
	ctx := context.Background()
	repo := (&repository.PositionRepository{}).WithDB(newTestDB(t))

	pos := newOpenPosition("pos-1", "sig-1", 7)
	pos.TakeProfits = []model.TakeProfitLevel{
		{LevelNumber: 2, TargetPrice: 110, ClosePercentage: 100},
		{LevelNumber: 1, TargetPrice: 105, ClosePercentage: 50},
	}
	pos.StopLoss = &model.StopLoss{TargetPrice: 98, PriceType: model.PriceTypeAbsolute, Value: 98}

	if err := repo.Create(ctx, pos); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := repo.FindByPositionID(ctx, "pos-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got == nil {
		t.Fatal("position not found")
	}

	// TP ladder comes back ordered by level number regardless of insert order.
	if len(got.TakeProfits) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(got.TakeProfits))
	}
	if got.TakeProfits[0].LevelNumber != 1 || got.TakeProfits[1].LevelNumber != 2 {
		t.Fatalf("levels out of order: %+v", got.TakeProfits)
	}
	if got.StopLoss == nil || got.StopLoss.TargetPrice != 98 {
		t.Fatalf("stop loss not loaded: %+v", got.StopLoss)
	}
}

func TestPositionRepository_FindByPositionID_NotFound(t *testing.T) {
	repo := (&repository.PositionRepository{}).WithDB(newTestDB(t))

	got, err := repo.FindByPositionID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("not-found must not be an error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestPositionRepository_SavePersistsAssociationChanges(t *testing.T) {
	ctx := context.Background()
	repo := (&repository.PositionRepository{}).WithDB(newTestDB(t))

	pos := newOpenPosition("pos-1", "sig-1", 7)
	pos.TakeProfits = []model.TakeProfitLevel{{LevelNumber: 1, TargetPrice: 105, ClosePercentage: 50}}
	if err := repo.Create(ctx, pos); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	loaded, _ := repo.FindByPositionID(ctx, "pos-1")
	loaded.TakeProfits[0].Executed = true
	price := 105.2
	loaded.TakeProfits[0].ExecutedPrice = &price
	loaded.RemainingQuantity = 5
	loaded.Status = model.PositionStatusPartiallyClosed

	if err := repo.Save(ctx, loaded); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := repo.FindByPositionID(ctx, "pos-1")
	if !got.TakeProfits[0].Executed {
		t.Fatal("executed flag not persisted")
	}
	if got.TakeProfits[0].ExecutedPrice == nil || *got.TakeProfits[0].ExecutedPrice != 105.2 {
		t.Fatalf("executed price not persisted: %+v", got.TakeProfits[0])
	}
	if got.Status != model.PositionStatusPartiallyClosed || got.RemainingQuantity != 5 {
		t.Fatalf("scalar changes not persisted: %+v", got)
	}
}

func TestPositionRepository_OpenQueries(t *testing.T) {
	ctx := context.Background()
	repo := (&repository.PositionRepository{}).WithDB(newTestDB(t))

	open := newOpenPosition("pos-1", "sig-1", 7)
	partially := newOpenPosition("pos-2", "sig-2", 7)
	partially.Status = model.PositionStatusPartiallyClosed
	partially.RemainingQuantity = 5
	closed := newOpenPosition("pos-3", "sig-3", 7)
	closed.Status = model.PositionStatusClosed
	closed.RemainingQuantity = 0
	otherUser := newOpenPosition("pos-4", "sig-4", 8)
	otherUser.Symbol = "ETHUSDT"

	for _, p := range []*model.Position{open, partially, closed, otherUser} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	byUser, err := repo.FindOpenByUser(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("expected 2 open positions for user 7, got %d", len(byUser))
	}

	all, err := repo.FindAllOpen(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 open positions, got %d", len(all))
	}

	bySignal, err := repo.FindOpenBySignal(ctx, 7, "sig-1", "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bySignal) != 1 || bySignal[0].PositionID != "pos-1" {
		t.Fatalf("unexpected result: %+v", bySignal)
	}

	tuples, err := repo.DistinctOpenSymbols(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tuples) != 2 {
		t.Fatalf("expected 2 distinct tuples, got %+v", tuples)
	}
}

func TestSignalRepository_DuplicateConstraint(t *testing.T) {
	ctx := context.Background()
	repo := (&repository.SignalRepository{}).WithDB(newTestDB(t))

	first := &model.Signal{SignalID: "sig-1", SignalType: model.SignalTypeOpenLong, Symbol: "BTCUSDT", Status: model.SignalStatusReceived}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	dup := &model.Signal{SignalID: "sig-1", SignalType: model.SignalTypeOpenLong, Symbol: "BTCUSDT", Status: model.SignalStatusReceived}
	err := repo.Create(ctx, dup)
	if !errors.Is(err, repository.ErrDuplicateSignal) {
		t.Fatalf("expected ErrDuplicateSignal, got %v", err)
	}
}

func TestPartialCloseRepository_AppendAndList(t *testing.T) {
	ctx := context.Background()
	repo := (&repository.PartialCloseRepository{}).WithDB(newTestDB(t))

	for _, e := range []*model.PartialCloseEvent{
		{PositionID: "pos-1", UserID: 7, Trigger: model.CloseTriggerTakeProfit, Quantity: 5, Price: 105, Pnl: 25},
		{PositionID: "pos-1", UserID: 7, Trigger: model.CloseTriggerStopLoss, Quantity: 5, Price: 98, Pnl: -10},
		{PositionID: "pos-2", UserID: 7, Trigger: model.CloseTriggerManual, Quantity: 1, Price: 100, Pnl: 0},
	} {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	events, err := repo.FindByPositionID(ctx, "pos-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestUserExchangeRepository_UpsertRefreshesCredentials(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := (&repository.GormUserExchangeRepository{}).WithDB(db)

	if err := db.Create(&model.User{ID: 7, Username: "alice", Active: true}).Error; err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	if err := repo.Upsert(ctx, &model.UserExchange{UserID: 7, APIKeyHash: "enc-key-1", APISecretHash: "enc-secret-1", Enabled: true}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := repo.Upsert(ctx, &model.UserExchange{UserID: 7, APIKeyHash: "enc-key-2", APISecretHash: "enc-secret-2", Enabled: true}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := repo.GetByUser(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("credentials not found")
	}
	if got.APIKeyHash != "enc-key-2" || got.APISecretHash != "enc-secret-2" {
		t.Fatalf("refresh not applied: %+v", got)
	}

	var count int64
	db.Model(&model.UserExchange{}).Where("user_id = ?", 7).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single credentials row, got %d", count)
	}
}

func TestUserRepository_ListActive(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := (&repository.GormUserRepository{}).WithDB(db)

	for _, u := range []*model.User{
		{ID: 1, Username: "alice", Active: true},
		{ID: 2, Username: "bob", Active: true},
		{ID: 3, Username: "carol", Active: true},
	} {
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("seed user failed: %v", err)
		}
	}
	// Deactivate after the insert so the column default does not mask the flag.
	if err := db.Model(&model.User{}).Where("id = ?", 2).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	users, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 active users, got %d", len(users))
	}
}
