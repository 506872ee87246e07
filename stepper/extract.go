package stepper

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/firmendata/wko-crawler/models"
	"github.com/firmendata/wko-crawler/parser"
)

// Selectors for the directory's server-rendered listing pages.
const (
	cardSelector       = "article.search-result-article"
	detailLinkSelector = "a.title-link[href]"
	phoneSelector      = `a[itemprop="telephone"]`
	emailSelector      = `a[itemprop="email"]`
	websiteSelector    = `a[itemprop="url"]`
	streetSelector     = ".address .street"
	placeSelector      = ".address .place"
	formSelector       = "form#aspnetForm"

	// The "load more" postback button and the value that triggers it.
	loadMoreField = "ctl00$ContentPlaceHolder1$nextPageButton"
	loadMoreValue = "Mehr laden"
)

// extractRecords builds one record per listing card on the page.
// Relative links are resolved against the page URL.
func extractRecords(doc *goquery.Document, branch string, base *url.URL, crawledAt time.Time) []*models.Record {
	var records []*models.Record
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		rec := &models.Record{
			Branch:        branch,
			SourceListURL: base.String(),
			CrawledAt:     crawledAt,
		}

		link := card.Find(detailLinkSelector).First()
		if link.Length() > 0 {
			rec.Name = parser.CleanText(link.Text())
			if href, ok := link.Attr("href"); ok {
				rec.DetailURL = resolveRef(base, href)
			}
		}

		if href, ok := card.Find(emailSelector).First().Attr("href"); ok {
			email := strings.TrimSpace(href)
			if strings.HasPrefix(strings.ToLower(email), "mailto:") {
				email = email[len("mailto:"):]
			}
			rec.Email = email
		}

		website := card.Find(websiteSelector + " span").First()
		if website.Length() == 0 {
			website = card.Find(websiteSelector).First()
		}
		rec.Website = parser.CleanText(website.Text())
		rec.Phone = parser.CleanText(card.Find(phoneSelector).First().Text())
		rec.Street = parser.CleanText(card.Find(streetSelector).First().Text())
		rec.ZipCity = parser.CleanText(card.Find(placeSelector).First().Text())

		records = append(records, rec)
	})
	return records
}

// parseFormFields collects the page form's non-button input fields so
// they can be echoed back on the next postback, plus the form action.
func parseFormFields(doc *goquery.Document) (url.Values, string, bool) {
	form := doc.Find(formSelector).First()
	if form.Length() == 0 {
		return nil, "", false
	}

	fields := url.Values{}
	form.Find("input[name]").Each(func(_ int, inp *goquery.Selection) {
		typ, _ := inp.Attr("type")
		switch strings.ToLower(typ) {
		case "submit", "button", "image", "reset", "file":
			return
		}
		name, _ := inp.Attr("name")
		value, _ := inp.Attr("value")
		fields.Set(name, value)
	})

	action, _ := form.Attr("action")
	return fields, action, true
}

// hasLoadMore reports whether the page still offers the postback
// pagination control.
func hasLoadMore(doc *goquery.Document) bool {
	sel := "input[name='" + loadMoreField + "'], input[name$='nextPageButton']"
	return doc.Find(sel).Length() > 0
}

func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
