package cache

import "testing"

func TestPriceCacheSetGet(t *testing.T) {
	c := NewPriceCache()

	if _, ok := c.Get("BTCUSDT"); ok {
		t.Fatal("empty cache returned a value")
	}

	c.Set("BTCUSDT", 83250.5)
	v, ok := c.Get("BTCUSDT")
	if !ok || v != 83250.5 {
		t.Fatalf("got %v ok=%v, expected 83250.5", v, ok)
	}

	c.Set("BTCUSDT", 83300)
	if v, _ := c.Get("BTCUSDT"); v != 83300 {
		t.Fatalf("got %v, expected overwrite to 83300", v)
	}
}

func TestPriceCacheIgnoresInvalidPrices(t *testing.T) {
	c := NewPriceCache()
	c.Set("BTCUSDT", 0)
	c.Set("BTCUSDT", -5)
	if _, ok := c.Get("BTCUSDT"); ok {
		t.Fatal("non-positive price was cached")
	}
}

func TestPriceCacheAge(t *testing.T) {
	c := NewPriceCache()
	c.Set("ETHUSDT", 4000)

	v, age, ok := c.GetWithAge("ETHUSDT")
	if !ok || v != 4000 {
		t.Fatalf("got %v ok=%v", v, ok)
	}
	if age < 0 {
		t.Fatalf("age=%v, expected non-negative", age)
	}
}
