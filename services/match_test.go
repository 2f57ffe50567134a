package services

import (
	"testing"

	"github.com/google/uuid"

	"pricepilot/config"
	"pricepilot/models"
)

func defaultMatcher() *Matcher {
	return NewMatcher(config.MatchConfig{Threshold: 0.72, Epsilon: 0.04})
}

func candidate(name, brand, model string) models.MatchCandidate {
	return models.MatchCandidate{ID: uuid.New(), Name: name, Brand: brand, Model: model}
}

func TestMatch_SameProductAcrossVendors(t *testing.T) {
	m := defaultMatcher()
	existing := candidate("Sony WH-1000XM4 Wireless Noise Canceling Headphones", "sony", "wh-1000xm4")

	result := m.Match(
		"Sony WH-1000XM4 Wireless Premium Noise Canceling Overhead Headphones with Mic",
		"Sony", "wh-1000xm4",
		[]models.MatchCandidate{existing},
	)
	if !result.Matched {
		t.Fatalf("expected match, got %+v", result)
	}
	if result.ProductID != existing.ID {
		t.Fatalf("matched wrong product")
	}
	if result.Ambiguous {
		t.Fatal("single candidate must not be ambiguous")
	}
}

func TestMatch_ModelGenerationStaysSeparate(t *testing.T) {
	m := defaultMatcher()
	xm3 := candidate("Sony WH-1000XM3 Wireless Noise Canceling Headphones", "sony", "wh-1000xm3")
	xm4 := candidate("Sony WH-1000XM4 Wireless Noise Canceling Headphones", "sony", "wh-1000xm4")

	result := m.Match("Sony WH-1000XM4 Wireless Noise Canceling Headphones", "sony", "wh-1000xm4",
		[]models.MatchCandidate{xm3, xm4})
	if !result.Matched {
		t.Fatalf("expected match, got %+v", result)
	}
	if result.ProductID != xm4.ID {
		t.Fatal("conflicting model codes must not win on name similarity")
	}
	if result.Ambiguous {
		t.Fatal("the one-character name difference must not read as a near-tie")
	}
}

func TestMatch_ConflictingModelIsNewProduct(t *testing.T) {
	m := defaultMatcher()
	xm3 := candidate("Sony WH-1000XM3 Wireless Noise Canceling Headphones", "sony", "wh-1000xm3")

	result := m.Match("Sony WH-1000XM4 Wireless Noise Canceling Headphones", "sony", "wh-1000xm4",
		[]models.MatchCandidate{xm3})
	if result.Matched || result.Ambiguous {
		t.Fatalf("a different model generation is a new product, got %+v", result)
	}
}

func TestMatch_HyphenBlindModelCodes(t *testing.T) {
	m := defaultMatcher()
	existing := candidate("Sony WH-1000XM4 Wireless Noise Canceling Headphones", "sony", "wh-1000xm4")

	result := m.Match("Sony WH1000XM4/B Wireless Noise Canceling Overhead Headphones", "sony", "",
		[]models.MatchCandidate{existing})
	if !result.Matched {
		t.Fatalf("vendor model spellings must converge, got %+v", result)
	}
}

func TestMatch_BrandPrefilter(t *testing.T) {
	m := defaultMatcher()
	bose := candidate("Wireless Noise Cancelling Headphones", "bose", "")

	result := m.Match("Wireless Noise Cancelling Headphones", "sony", "", []models.MatchCandidate{bose})
	if result.Matched || result.Ambiguous {
		t.Fatalf("different brands must never match, got %+v", result)
	}
}

func TestMatch_MissingBrandPasses(t *testing.T) {
	m := defaultMatcher()
	existing := candidate("Sony WH-1000XM4 Wireless Noise Canceling Headphones", "", "wh-1000xm4")

	result := m.Match("Sony WH-1000XM4 Wireless Noise Canceling Headphones", "sony", "wh-1000xm4",
		[]models.MatchCandidate{existing})
	if !result.Matched {
		t.Fatalf("missing candidate brand must not block, got %+v", result)
	}
}

func TestMatch_NearTieIsAmbiguous(t *testing.T) {
	m := defaultMatcher()
	a := candidate("Apple AirPods Pro Wireless Earbuds Case Included", "apple", "")
	b := candidate("Apple AirPods Pro Wireless Earbuds Cable Included", "apple", "")

	result := m.Match("Apple AirPods Pro Wireless Earbuds", "apple", "", []models.MatchCandidate{a, b})
	if !result.Ambiguous {
		t.Fatalf("near-identical candidates must be ambiguous, got %+v", result)
	}
	if result.Matched {
		t.Fatal("ambiguous result must not also be a match")
	}
}

func TestMatch_NoCandidates(t *testing.T) {
	m := defaultMatcher()
	result := m.Match("Sony WH-1000XM4", "sony", "wh-1000xm4", nil)
	if result.Matched || result.Ambiguous {
		t.Fatalf("empty pool yields a new-product verdict, got %+v", result)
	}
}

func TestMatch_TokenOrderInsensitive(t *testing.T) {
	m := defaultMatcher()
	existing := candidate("WH-1000XM4 Sony Headphones Wireless Noise Canceling", "sony", "")

	result := m.Match("Sony WH-1000XM4 Wireless Noise Canceling Headphones", "sony", "",
		[]models.MatchCandidate{existing})
	if !result.Matched {
		t.Fatalf("token-sorted similarity must rescue reordered names, got %+v", result)
	}
}
