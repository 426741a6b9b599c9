package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"discovery-worker/domain"
)

var (
	errNoResultsContainer = errors.New("results container not found")
	errNotProfilePage     = errors.New("not a provider profile page")
)

var priceRe = regexp.MustCompile(`\d[\d\s\x{00A0}.,]*`)

// directoryCard is one listing card as found in the page.
type directoryCard struct {
	providerID string
	slug       string
	href       string
	name       strings.Builder
	city       strings.Builder
	region     string
	priceMin   string
	priceMax   string
	currency   string
	rating     string
	reviews    string
}

// parseDirectoryListing tokenizes a listing page. Cards without a link are
// reported back as skipped rather than failing the page.
func parseDirectoryListing(payload string, pageURL *url.URL) (entries []domain.ListingEntry, skipped []string, err error) {
	z := html.NewTokenizer(strings.NewReader(payload))
	var (
		foundResults bool
		card         *directoryCard
		capture      *strings.Builder
		captureTag   string
		cardIndex    int
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return nil, nil, fmt.Errorf("failed to tokenize listing: %w", z.Err())
			}
			if !foundResults {
				return nil, nil, errNoResultsContainer
			}
			return entries, skipped, nil

		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			attrs := attrMap(t.Attr)
			switch {
			case t.Data == "section" && hasClass(attrs["class"], "results"):
				foundResults = true
			case t.Data == "article" && hasClass(attrs["class"], "dj-card"):
				cardIndex++
				card = &directoryCard{providerID: attrs["data-provider-id"], slug: attrs["data-slug"]}
			case card == nil:
			case t.Data == "a" && hasClass(attrs["class"], "dj-card__link"):
				card.href = attrs["href"]
			case hasClass(attrs["class"], "dj-card__name"):
				capture, captureTag = &card.name, t.Data
			case hasClass(attrs["class"], "dj-card__city"):
				capture, captureTag = &card.city, t.Data
				card.region = attrs["data-region"]
			case hasClass(attrs["class"], "dj-card__price"):
				card.priceMin, card.priceMax, card.currency = attrs["data-min"], attrs["data-max"], attrs["data-currency"]
			case hasClass(attrs["class"], "dj-card__rating"):
				card.rating, card.reviews = attrs["data-rating"], attrs["data-reviews"]
			}

		case html.TextToken:
			if capture != nil {
				capture.Write(z.Text())
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if capture != nil && tag == captureTag {
				capture, captureTag = nil, ""
			}
			if tag == "article" && card != nil {
				entry, ok := card.entry(pageURL)
				if ok {
					entries = append(entries, entry)
				} else {
					skipped = append(skipped, fmt.Sprintf("card %d has no profile link", cardIndex))
				}
				card = nil
			}
		}
	}
}

func (c *directoryCard) entry(pageURL *url.URL) (domain.ListingEntry, bool) {
	if c.href == "" {
		return domain.ListingEntry{}, false
	}
	ref, err := url.Parse(strings.TrimSpace(c.href))
	if err != nil {
		return domain.ListingEntry{}, false
	}
	profileURL := pageURL.ResolveReference(ref).String()

	slug := c.slug
	if slug == "" {
		slug = domain.SlugFromURL(profileURL)
	}

	raw, _ := json.Marshal(map[string]string{
		"providerId": c.providerID,
		"href":       c.href,
		"priceMin":   c.priceMin,
		"priceMax":   c.priceMax,
		"rating":     c.rating,
		"reviews":    c.reviews,
	})
	return domain.ListingEntry{
		Provider:    domain.ProviderDJDirectory,
		URL:         profileURL,
		Slug:        slug,
		ProviderID:  c.providerID,
		Name:        collapseSpace(c.name.String()),
		PriceMin:    parseFloat(c.priceMin),
		PriceMax:    parseFloat(c.priceMax),
		Currency:    c.currency,
		Rating:      parseFloat(c.rating),
		ReviewCount: parseInt(c.reviews),
		City:        collapseSpace(c.city.String()),
		Region:      c.region,
		Raw:         raw,
	}, true
}

type jsonLD struct {
	Type string `json:"@type"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// parseDirectoryProfile extracts a provider profile from its detail page.
func parseDirectoryProfile(payload string, pageURL string) (*domain.ProfileDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile page: %w", err)
	}
	profile := doc.Find("main.profile").First()
	if profile.Length() == 0 {
		return nil, errNotProfilePage
	}

	d := &domain.ProfileDetail{
		URL:        pageURL,
		ProviderID: strings.TrimSpace(profile.AttrOr("data-provider-id", "")),
		Name:       collapseSpace(profile.Find(".profile__name").First().Text()),
	}

	var ld jsonLD
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		return json.Unmarshal([]byte(s.Text()), &ld) != nil
	})
	if canonical, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && canonical != "" {
		d.URL = canonical
	} else if ld.URL != "" {
		d.URL = ld.URL
	}
	if d.Name == "" {
		d.Name = ld.Name
	}
	if d.Name == "" {
		return nil, fmt.Errorf("%w: missing provider name", errNotProfilePage)
	}

	d.Description = collapseSpace(profile.Find(".profile__bio").First().Text())
	d.Rating = parseFloat(profile.Find(`[itemprop="ratingValue"]`).First().Text())
	d.ReviewCount = parseInt(profile.Find(`[itemprop="reviewCount"]`).First().Text())

	packages := profile.Find(".profile__packages").First()
	d.Currency = packages.AttrOr("data-currency", "")
	packages.Find("li").Each(func(_ int, s *goquery.Selection) {
		price := parseFloat(s.AttrOr("data-price", ""))
		if price == nil {
			price = parsePriceText(s.Text())
		}
		if price != nil {
			d.Prices = append(d.Prices, *price)
		}
	})

	loc := profile.Find(".profile__location").First()
	d.City = collapseSpace(loc.Find(".profile__city").Text())
	d.Region = collapseSpace(loc.Find(".profile__region").Text())
	lat, lng := parseFloat(loc.AttrOr("data-lat", "")), parseFloat(loc.AttrOr("data-lng", ""))
	if lat != nil && lng != nil {
		d.Geo = &domain.GeoPoint{Lat: *lat, Lng: *lng}
	}
	d.ServiceRadiusKm = parseFloat(loc.AttrOr("data-radius-km", ""))

	profile.Find(".profile__calendar [data-booked]").Each(func(_ int, s *goquery.Selection) {
		if date := strings.TrimSpace(s.AttrOr("data-booked", "")); date != "" {
			d.BookedDates = append(d.BookedDates, date)
		}
	})

	d.YearsActive = parseInt(profile.Find("[data-years-active]").First().AttrOr("data-years-active", ""))
	d.ResponseHours = parseFloat(profile.Find("[data-response-hours]").First().AttrOr("data-response-hours", ""))
	d.Verified = profile.Find(".badge--verified").Length() > 0
	d.PhotoCount = profile.Find(".profile__gallery img").Length()
	d.VideoCount = profile.Find(".profile__videos iframe, .profile__videos video").Length()

	policy := profile.Find(".profile__policy").First()
	d.Cancellation = collapseSpace(policy.Find(".profile__cancellation").Text())
	d.DepositPercent = parseFloat(policy.AttrOr("data-deposit-percent", ""))
	return d, nil
}

func attrMap(attrs []html.Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Val
	}
	return m
}

func hasClass(classAttr, class string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == class {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt(s string) *int {
	s = strings.Trim(strings.TrimSpace(s), "()")
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// parsePriceText reads amounts such as "1 200 €" or "450,50".
func parsePriceText(s string) *float64 {
	m := priceRe.FindString(s)
	if m == "" {
		return nil
	}
	m = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(m))
	// A trailing two-digit group after a separator is a decimal part.
	if i := strings.LastIndexAny(m, ".,"); i >= 0 && len(m)-i-1 == 2 {
		m = strings.NewReplacer(".", "", ",", "").Replace(m[:i]) + "." + m[i+1:]
	} else {
		m = strings.NewReplacer(".", "", ",", "").Replace(m)
	}
	return parseFloat(m)
}
