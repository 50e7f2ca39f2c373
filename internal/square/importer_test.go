package square

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/beanledger/beanledger/internal/catalog"
	"github.com/beanledger/beanledger/internal/shared"
)

type fakeAPI struct {
	objects   []CatalogObject
	locations []Location
	counts    []InventoryCount
	searchErr error
	searches  [][]string
}

func (f *fakeAPI) ListLocations(ctx context.Context) ([]Location, error) {
	return f.locations, nil
}

func (f *fakeAPI) SearchCatalog(ctx context.Context, objectTypes []string) ([]CatalogObject, error) {
	f.searches = append(f.searches, objectTypes)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.objects, nil
}

func (f *fakeAPI) BatchRetrieveCounts(ctx context.Context, objectIDs []string, locationID string) ([]InventoryCount, error) {
	return f.counts, nil
}

type fakeApplier struct {
	applied []catalog.ExternalFields
	create  map[string]bool
	skip    map[string]bool
	errOn   map[string]error
}

func (f *fakeApplier) ApplyExternal(ctx context.Context, fields catalog.ExternalFields) (catalog.Product, bool, bool, error) {
	f.applied = append(f.applied, fields)
	if err := f.errOn[fields.SquareVariationID]; err != nil {
		return catalog.Product{}, false, false, err
	}
	if f.create[fields.SquareVariationID] {
		return catalog.Product{SquareVariationID: fields.SquareVariationID}, true, false, nil
	}
	if f.skip[fields.SquareVariationID] {
		return catalog.Product{SquareVariationID: fields.SquareVariationID}, false, true, nil
	}
	return catalog.Product{SquareVariationID: fields.SquareVariationID}, false, false, nil
}

type fakeRuns struct {
	runs []SyncRun
}

func (f *fakeRuns) InsertRun(ctx context.Context, run SyncRun) (SyncRun, error) {
	run.ID = int64(len(f.runs) + 1)
	f.runs = append(f.runs, run)
	return run, nil
}

func catalogFixture() []CatalogObject {
	return []CatalogObject{
		{Type: "CATEGORY", ID: "CAT1", CategoryData: &CategoryData{Name: "Espresso Drinks"}},
		{Type: "ITEM", ID: "ITEM1", ItemData: &ItemData{Name: "Latte", Description: "Espresso and steamed milk", CategoryID: "CAT1"}},
		{Type: "ITEM_VARIATION", ID: "VAR1", ItemVariationData: &ItemVariationData{
			ItemID: "ITEM1", Name: "12oz Iced", SKU: "LAT-12", PriceMoney: &Money{Amount: 450, Currency: "USD"},
		}},
		{Type: "ITEM_VARIATION", ID: "VAR2", ItemVariationData: &ItemVariationData{ItemID: "ITEM1", Name: "16oz Hot To-Go"}},
		{Type: "ITEM_VARIATION", ID: "VAR-ORPHAN", ItemVariationData: &ItemVariationData{ItemID: "GHOST", Name: "Orphan"}},
		{Type: "ITEM", ID: "ITEM-GONE", IsDeleted: true, ItemData: &ItemData{Name: "Retired Drink"}},
	}
}

func newImporter(api *fakeAPI, applier *fakeApplier, runs *fakeRuns, settings Settings) *Importer {
	factory := func(token, environment string) SquareAPI { return api }
	return NewImporter(
		discardLogger(),
		&fakeSettings{settings: settings},
		applier,
		runs,
		NewCandidateCache(nil, 0),
		factory,
		nil,
	)
}

func TestImporterRunImportsCatalog(t *testing.T) {
	api := &fakeAPI{objects: catalogFixture()}
	applier := &fakeApplier{create: map[string]bool{"VAR1": true}, skip: map[string]bool{"VAR2": true}}
	runs := &fakeRuns{}
	importer := newImporter(api, applier, runs, Settings{AccessToken: "tok", Environment: EnvironmentSandbox})

	result, err := importer.Run(context.Background(), TriggerManual, shared.UserActor(3))
	require.NoError(t, err)

	require.Equal(t, 1, result.Imported)
	require.Equal(t, 1, result.Skipped)
	require.Zero(t, result.Updated)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "VAR-ORPHAN")
	require.Contains(t, result.Errors[0], "GHOST")

	require.Len(t, applier.applied, 2)
	first := applier.applied[0]
	require.Equal(t, "ITEM1", first.SquareItemID)
	require.Equal(t, "VAR1", first.SquareVariationID)
	require.Equal(t, "Latte", first.Name)
	require.Equal(t, "Espresso Drinks", first.Category)
	require.Equal(t, "12oz Iced", first.VariationName)
	require.Equal(t, "LAT-12", first.SKU)
	require.Equal(t, int64(450), first.PriceCents)
	require.Equal(t, "12oz", first.Size)
	require.Equal(t, "iced", first.Temperature)

	second := applier.applied[1]
	require.Equal(t, "16oz", second.Size)
	require.Equal(t, "hot", second.Temperature)
	require.Equal(t, "to-go", second.ToGoStatus)

	require.Len(t, runs.runs, 1)
	run := runs.runs[0]
	require.Equal(t, RunKindCatalogImport, run.Kind)
	require.Equal(t, TriggerManual, run.Trigger)
	require.Equal(t, RunStatusCompletedWithErrors, run.Status)
	require.Equal(t, 1, run.Imported)
	require.NotEqual(t, uuid.Nil, run.RunID)
	require.Equal(t, shared.ActorUser, run.ActorType)
	require.Equal(t, "3", run.ActorID)
	require.GreaterOrEqual(t, run.FinishedAt.UnixNano(), run.StartedAt.UnixNano())
}

func TestImporterRequiresAccessToken(t *testing.T) {
	api := &fakeAPI{objects: catalogFixture()}
	importer := newImporter(api, &fakeApplier{}, &fakeRuns{}, Settings{})

	_, err := importer.Run(context.Background(), TriggerManual, shared.UserActor(3))
	require.ErrorIs(t, err, ErrNotConnected)
	require.Empty(t, api.searches)
}

func TestImporterSearchFailureRecordsFailedRun(t *testing.T) {
	api := &fakeAPI{searchErr: errors.New("status 503")}
	runs := &fakeRuns{}
	importer := newImporter(api, &fakeApplier{}, runs, Settings{AccessToken: "tok"})

	_, err := importer.Run(context.Background(), TriggerHourly, shared.SystemActor("scheduled-sync"))
	require.ErrorContains(t, err, "catalog search")

	require.Len(t, runs.runs, 1)
	require.Equal(t, RunStatusFailed, runs.runs[0].Status)
	require.Equal(t, TriggerHourly, runs.runs[0].Trigger)
}

func TestImporterIsolatesApplyErrors(t *testing.T) {
	api := &fakeAPI{objects: catalogFixture()}
	applier := &fakeApplier{errOn: map[string]error{"VAR1": errors.New("variation already linked")}}
	runs := &fakeRuns{}
	importer := newImporter(api, applier, runs, Settings{AccessToken: "tok"})

	result, err := importer.Run(context.Background(), TriggerManual, shared.UserActor(3))
	require.NoError(t, err)

	// VAR1 failed, VAR2 still applied, the orphan is its own error.
	require.Len(t, applier.applied, 2)
	require.Len(t, result.Errors, 2)
	require.Equal(t, 1, result.Updated)
}

func TestFlattenCandidatesResolvesParents(t *testing.T) {
	candidates, errs := flattenCandidates(catalogFixture())

	require.Len(t, candidates, 2)
	require.Equal(t, "Latte", candidates[0].ItemName)
	require.Equal(t, "Espresso Drinks", candidates[0].Category)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "parent item GHOST")
}

func TestDeriveAttributes(t *testing.T) {
	cases := []struct {
		name        string
		size        string
		temperature string
		toGo        string
	}{
		{"12oz Iced", "12oz", "iced", ""},
		{"16 oz Hot To-Go", "16oz", "hot", "to-go"},
		{"Large Takeout", "large", "", "to-go"},
		{"Medium", "medium", "", ""},
		{"8.5oz", "8.5oz", "", ""},
		{"Regular", "", "", ""},
		{"", "", "", ""},
	}
	for _, tc := range cases {
		size, temperature, toGo := deriveAttributes(tc.name)
		require.Equal(t, tc.size, size, tc.name)
		require.Equal(t, tc.temperature, temperature, tc.name)
		require.Equal(t, tc.toGo, toGo, tc.name)
	}
}
