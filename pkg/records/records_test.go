package records

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFileStoreSaveCoffeeOrder(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	store.now = fixedClock(time.Date(2025, 11, 23, 10, 30, 0, 0, time.Local))

	path, err := store.SaveCoffeeOrder(context.Background(), CoffeeOrder{
		DrinkType: "latte",
		Size:      "medium",
		Milk:      "oat",
		Name:      "Asha",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "orderlist", "order_20251123_103000.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"drinkType\""))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []interface{}{}, got["extras"])
	assert.Equal(t, "Asha", got["name"])
}

func TestFileStoreNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	store.now = fixedClock(time.Date(2025, 11, 23, 10, 30, 0, 0, time.Local))

	ctx := context.Background()
	first, err := store.SaveLead(ctx, Lead{Name: "A"})
	require.NoError(t, err)
	second, err := store.SaveLead(ctx, Lead{Name: "B"})
	require.NoError(t, err)
	third, err := store.SaveLead(ctx, Lead{Name: "C"})
	require.NoError(t, err)

	assert.Equal(t, "lead_20251123_103000.json", filepath.Base(first))
	assert.Equal(t, "lead_20251123_103000_2.json", filepath.Base(second))
	assert.Equal(t, "lead_20251123_103000_3.json", filepath.Base(third))

	var lead Lead
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &lead))
	assert.Equal(t, "A", lead.Name)
	assert.Equal(t, "2025-11-23T10:30:00", lead.CreatedAt)
}

func TestFileStoreFailedWriteLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	store.now = fixedClock(time.Date(2025, 11, 23, 10, 30, 0, 0, time.Local))

	original := writeRecord
	writeRecord = func(io.Writer, []byte) (int, error) { return 0, errors.New("no space left on device") }
	t.Cleanup(func() { writeRecord = original })

	ctx := context.Background()
	_, err = store.SaveLead(ctx, Lead{Name: "A"})
	assert.ErrorContains(t, err, "no space left on device")

	entries, err := os.ReadDir(filepath.Join(dir, "leads"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	writeRecord = original
	path, err := store.SaveLead(ctx, Lead{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, "lead_20251123_103000.json", filepath.Base(path))
}

func TestFileStoreShoppingOrderWithMirror(t *testing.T) {
	ctx := context.Background()
	mirror, err := OpenSQLiteMirror(ctx, filepath.Join(t.TempDir(), "index", "records.db"))
	require.NoError(t, err)
	defer mirror.Close()

	store, err := NewFileStore(t.TempDir(), mirror)
	require.NoError(t, err)

	path, err := store.SaveShoppingOrder(ctx, ShoppingOrder{
		CustomerName: "Ravi",
		Address:      "12 MG Road Bengaluru",
		Items:        []OrderItem{{ID: "pasta_spaghetti", Name: "Spaghetti", Qty: 2, Price: 90, Subtotal: 180}},
		Total:        180,
	})
	require.NoError(t, err)
	assert.Equal(t, "orders", filepath.Base(filepath.Dir(path)))

	_, err = store.SaveLead(ctx, Lead{Name: "Meera"})
	require.NoError(t, err)

	entries, err := mirror.List(ctx, KindShoppingOrder, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, path, entries[0].Path)
	assert.Contains(t, entries[0].Payload, "Ravi")

	n, err := mirror.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteMirrorListOrder(t *testing.T) {
	ctx := context.Background()
	mirror, err := OpenSQLiteMirror(ctx, ":memory:")
	require.NoError(t, err)
	defer mirror.Close()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mirror.Index(ctx, KindLead, "/a.json", base, []byte(`{}`)))
	require.NoError(t, mirror.Index(ctx, KindLead, "/b.json", base.Add(time.Minute), []byte(`{}`)))
	require.NoError(t, mirror.Index(ctx, KindLead, "/a.json", base, []byte(`{"v":2}`)))

	entries, err := mirror.List(ctx, KindLead, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/b.json", entries[0].Path)
	assert.Equal(t, `{"v":2}`, entries[1].Payload)

	limited, err := mirror.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

const casesJSON = `[
  {
    "userName": "John",
    "securityQuestion": "What is your favourite colour?",
    "securityAnswer": "Blue",
    "merchantName": "ABC Electronics",
    "transactionAmount": "INR 45,000",
    "cardEnding": "4242",
    "status": "pending_review",
    "customField": {"nested": true}
  },
  {
    "userName": "Priya",
    "securityQuestion": "City of birth?",
    "securityAnswer": "Pune",
    "status": "pending_review"
  }
]`

func newCases(t *testing.T) *FraudCases {
	t.Helper()
	path := filepath.Join(t.TempDir(), "day6_fraud_cases.json")
	require.NoError(t, os.WriteFile(path, []byte(casesJSON), 0644))
	return NewFraudCases(path)
}

func TestFraudCasesFind(t *testing.T) {
	cases := newCases(t)

	c, err := cases.Find("  john ")
	require.NoError(t, err)
	assert.Equal(t, "John", c.UserName())
	assert.Equal(t, "What is your favourite colour?", c.SecurityQuestion())

	redacted := c.Redacted()
	assert.NotContains(t, redacted, "securityAnswer")
	assert.Contains(t, c, "securityAnswer")

	_, err = cases.Find("nobody")
	assert.ErrorIs(t, err, ErrCaseNotFound)

	_, err = NewFraudCases(filepath.Join(t.TempDir(), "missing.json")).Find("john")
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestFraudCasesVerifyAnswer(t *testing.T) {
	cases := newCases(t)

	ok, err := cases.VerifyAnswer("John", "  BLUE ")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cases.VerifyAnswer("John", "red")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cases.VerifyAnswer("ghost", "blue")
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestFraudCasesUpdate(t *testing.T) {
	cases := newCases(t)
	cases.now = fixedClock(time.Date(2025, 11, 25, 9, 15, 42, 0, time.Local))
	ctx := context.Background()

	updated, err := cases.Update(ctx, "JOHN", "confirmed_fraud", "Customer denied the transaction.")
	require.NoError(t, err)
	assert.Equal(t, "confirmed_fraud", updated.Status())

	data, err := os.ReadFile(cases.Path())
	require.NoError(t, err)
	var all []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &all))
	require.Len(t, all, 2)
	assert.Equal(t, "confirmed_fraud", all[0]["status"])
	assert.Equal(t, "Customer denied the transaction.", all[0]["outcomeNote"])
	assert.Equal(t, "2025-11-25T09:15:42", all[0]["updatedAt"])
	assert.Equal(t, map[string]interface{}{"nested": true}, all[0]["customField"])
	assert.Equal(t, "pending_review", all[1]["status"])

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := cases.Update(ctx, "John", "maybe", "")
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := cases.Update(ctx, "ghost", "confirmed_safe", "")
		assert.ErrorIs(t, err, ErrCaseNotFound)
	})
}

func TestFraudCasesConcurrentUpdates(t *testing.T) {
	cases := newCases(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = cases.Update(ctx, "John", "confirmed_safe", "ok")
		}()
		go func() {
			defer wg.Done()
			_, _ = cases.Update(ctx, "Priya", "verification_failed", "no match")
		}()
	}
	wg.Wait()

	john, err := cases.Find("john")
	require.NoError(t, err)
	priya, err := cases.Find("priya")
	require.NoError(t, err)
	assert.Equal(t, "confirmed_safe", john.Status())
	assert.Equal(t, "verification_failed", priya.Status())
}

func TestFileStoreList(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	leads, err := store.List(KindLead)
	require.NoError(t, err)
	assert.Empty(t, leads)

	_, err = store.List("invoice")
	assert.Error(t, err)

	ctx := context.Background()
	store.now = fixedClock(time.Date(2025, 11, 23, 10, 30, 0, 0, time.Local))
	_, err = store.SaveLead(ctx, Lead{Name: "A"})
	require.NoError(t, err)
	store.now = fixedClock(time.Date(2025, 11, 24, 9, 0, 0, 0, time.Local))
	_, err = store.SaveLead(ctx, Lead{Name: "B"})
	require.NoError(t, err)
	_, err = store.SaveCoffeeOrder(ctx, CoffeeOrder{DrinkType: "mocha"})
	require.NoError(t, err)

	leads, err = store.List(KindLead)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "lead_20251124_090000.json", filepath.Base(leads[0]))
	assert.Equal(t, "lead_20251123_103000.json", filepath.Base(leads[1]))

	orders, err := store.List(KindCoffeeOrder)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, []string{KindCoffeeOrder, KindShoppingOrder, KindLead}, Kinds())
}
