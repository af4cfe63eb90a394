package outputbuf

import "testing"

func TestAppendAndGetPage(t *testing.T) {
	b := New(1024)
	b.Append(CategoryStdout, "hello", "", 0)
	b.Append(CategoryStderr, "world", "", 0)

	page := b.GetPage(0, 10, nil)
	if page.Total != 2 {
		t.Fatalf("expected 2 records, got %d", page.Total)
	}
	if page.Truncated {
		t.Fatal("did not expect truncation")
	}
	if page.Records[0].Seq != 1 || page.Records[1].Seq != 2 {
		t.Fatalf("expected monotonic seq, got %+v", page.Records)
	}
}

func TestCategoryFilter(t *testing.T) {
	b := New(1024)
	b.Append(CategoryStdout, "a", "", 0)
	b.Append(CategoryStderr, "b", "", 0)
	b.Append(CategoryStdout, "c", "", 0)

	cat := CategoryStdout
	page := b.GetPage(0, 10, &cat)
	if page.Total != 2 {
		t.Fatalf("expected 2 stdout records, got %d", page.Total)
	}
	for _, r := range page.Records {
		if r.Category != CategoryStdout {
			t.Fatalf("unexpected category in filtered page: %s", r.Category)
		}
	}
}

func TestEvictionByByteBudget(t *testing.T) {
	b := New(10)
	for i := 0; i < 5; i++ {
		b.Append(CategoryStdout, "xxxxx", "", 0) // 5 bytes each
	}

	page := b.GetPage(0, 100, nil)
	if !page.Truncated {
		t.Fatal("expected truncated=true once the byte budget is exceeded")
	}

	total := 0
	for _, r := range page.Records {
		total += len(r.Text)
	}
	if total > 10 {
		t.Fatalf("retained bytes %d exceed budget 10", total)
	}

	last := page.Records[len(page.Records)-1]
	if last.Seq != 5 {
		t.Fatalf("expected the latest record (seq 5) to be retained, got seq %d", last.Seq)
	}
}

func TestSingleRecordLargerThanCapIsStillStored(t *testing.T) {
	b := New(4)
	b.Append(CategoryStdout, "this is way over budget", "", 0)

	page := b.GetPage(0, 10, nil)
	if page.Total != 1 {
		t.Fatalf("expected the oversized record to be kept alone, got %d records", page.Total)
	}
}

func TestClearResetsCountersAndSeq(t *testing.T) {
	b := New(1024)
	b.Append(CategoryStdout, "a", "", 0)
	b.Append(CategoryStdout, "b", "", 0)
	b.Clear()

	rec := b.Append(CategoryStdout, "c", "", 0)
	if rec.Seq != 1 {
		t.Fatalf("expected seq counter to reset to 1 after Clear, got %d", rec.Seq)
	}

	page := b.GetPage(0, 10, nil)
	if page.Truncated {
		t.Fatal("expected truncated=false after Clear")
	}
}
