// Package bobaedream crawls the bobaedream.co.kr used-car listing pages.
package bobaedream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/dispatcher"
	"github.com/JakeFAU/kr-car-crawler/internal/normalize"
	"github.com/JakeFAU/kr-car-crawler/internal/source"
)

const (
	listURL = "https://www.bobaedream.co.kr/mycar/mycar_list.php"
	// PageSize is the view_size requested per listing page.
	PageSize = 40
	// DefaultMaxPages caps pagination per (class, body) partition.
	DefaultMaxPages = 80
	skipPrefix      = "미니"
)

// VehicleClasses are the gubun filters: imported and domestic.
var VehicleClasses = []string{"I", "K"}

// BodyTypes are the carriage filters; each name is also the stored body type.
var BodyTypes = []string{
	"버스", "웨건", "준중형차", "대형차", "쿠페", "슈퍼카", "컨버터블", "소형차", "SUV", "리무진",
	"RV", "중형차", "밴", "캠핑카", "스포츠카", "승합차", "경차", "픽업", "트럭/화물", "해치백",
}

var carIDPattern = regexp.MustCompile(`[?&]no=(\d+)`)

var errNoListing = errors.New("listing container missing")

// Parser crawls bobaedream.
type Parser struct {
	requester source.Requester
	previews  *source.PreviewSaver
	opts      source.Options
	logger    *zap.Logger
	drives    *normalize.TransmissionMatcher
	baseURL   string
}

// New builds a bobaedream parser.
func New(requester source.Requester, previews *source.PreviewSaver, opts source.Options) *Parser {
	opts = opts.WithDefaults(DefaultMaxPages)
	return &Parser{
		requester: requester,
		previews:  previews,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("source", string(car.SourceBobaedream))),
		drives:    normalize.NewTransmissionMatcher(normalize.BobaedreamDrives),
		baseURL:   listURL,
	}
}

// Name implements source.Parser.
func (p *Parser) Name() car.Source {
	return car.SourceBobaedream
}

// Crawl walks every body category across both vehicle classes and emits one
// batch per body category.
func (p *Parser) Crawl(ctx context.Context, sink source.Sink) error {
	for _, body := range BodyTypes {
		var batch []car.Record
		for _, class := range VehicleClasses {
			records, err := p.crawlPartition(ctx, class, body)
			if err != nil {
				return err
			}
			batch = append(batch, records...)
		}
		if len(batch) == 0 {
			continue
		}
		if err := sink(ctx, source.Dedupe(batch)); err != nil {
			return err
		}
	}
	return nil
}

type card struct {
	record car.Record
	thumb  string
}

func (p *Parser) crawlPartition(ctx context.Context, class, body string) ([]car.Record, error) {
	logger := p.logger.With(zap.String("class", class), zap.String("body_type", body))

	doc, err := p.fetchPage(ctx, class, body, 1)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("first page unavailable, skipping partition", zap.Error(err))
		return nil, nil
	}
	total, err := totalCount(doc)
	if err != nil {
		logger.Warn("result count missing, skipping partition", zap.Error(err))
		return nil, nil
	}
	pages := source.PageCount(total, PageSize, p.opts.MaxPages)
	logger.Info("partition discovered", zap.Int("total", total), zap.Int("pages", pages))
	if pages == 0 {
		return nil, nil
	}

	cards := p.parseCards(doc, body, logger)
	rest, err := source.Collect(ctx, source.Pages(pages)[1:], p.opts.PageConcurrency,
		func(ctx context.Context, page int) ([]card, bool) {
			doc, err := p.fetchPage(ctx, class, body, page)
			if err != nil {
				logger.Warn("listing page skipped", zap.Int("page", page), zap.Error(err))
				return nil, false
			}
			return p.parseCards(doc, body, logger), true
		})
	if err != nil {
		return nil, err
	}
	for _, pageCards := range rest {
		cards = append(cards, pageCards...)
	}

	return source.Collect(ctx, cards, p.opts.DetailConcurrency, func(ctx context.Context, c card) (car.Record, bool) {
		if c.thumb != "" {
			c.record.Preview = p.previews.Save(ctx, car.SourceBobaedream, c.record.ID, PreviewURL(c.thumb))
		}
		return c.record, true
	})
}

func (p *Parser) pageURL(class, body string, page int) string {
	q := url.Values{}
	q.Set("ot", "second")
	q.Set("view_size", strconv.Itoa(PageSize))
	q.Set("gubun", class)
	q.Set("carriage", body)
	q.Set("page", strconv.Itoa(page))
	return p.baseURL + "?" + q.Encode()
}

func (p *Parser) fetchPage(ctx context.Context, class, body string, page int) (*goquery.Document, error) {
	resp, err := p.requester.Do(ctx, dispatcher.Request{Method: http.MethodGet, URL: p.pageURL(class, body, page)})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, errors.New(http.StatusText(resp.StatusCode))
	}
	return resp.Document()
}

func totalCount(doc *goquery.Document) (int, error) {
	tot := doc.Find("span#tot")
	if tot.Length() == 0 {
		return 0, errNoListing
	}
	raw := strings.NewReplacer(",", "", ".", "").Replace(strings.TrimSpace(tot.Text()))
	return strconv.Atoi(raw)
}

func (p *Parser) parseCards(doc *goquery.Document, body string, logger *zap.Logger) []card {
	var cards []card
	doc.Find("div#listCont li.product-item").Each(func(_ int, s *goquery.Selection) {
		c, ok, err := p.parseCard(s, body)
		if err != nil {
			logger.Debug("card skipped", zap.Error(err))
			return
		}
		if ok {
			cards = append(cards, c)
		}
	})
	return cards
}

func (p *Parser) parseCard(s *goquery.Selection, body string) (card, bool, error) {
	titleSel := s.Find("p.tit").First()
	title := strings.TrimSpace(titleSel.Text())
	if strings.HasPrefix(title, skipPrefix) {
		return card{}, false, nil
	}
	m := carIDPattern.FindStringSubmatch(titleSel.Find("a").AttrOr("href", ""))
	if m == nil {
		return card{}, false, errors.New("listing link without id")
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return card{}, false, err
	}
	year, err := normalize.Year(s.Find("div.mode-cell.year").Text())
	if err != nil {
		return card{}, false, err
	}

	mark, model, grade := normalize.SplitTitle(title)
	rec := car.Record{
		Source:       car.SourceBobaedream,
		ID:           id,
		BodyType:     body,
		Mark:         mark,
		Model:        model,
		Grade:        grade,
		Gearbox:      strings.TrimSpace(s.Find("dd.data-item").First().Text()),
		Transmission: p.drives.Match(s.Find("dl.data.is-list").Text()),
		Year:         year,
		Fuel:         strings.TrimSpace(s.Find("div.mode-cell.fuel").Text()),
		Mileage:      normalize.Mileage(s.Find("div.mode-cell.km").Text()),
		Price:        normalize.Price(s.Find("div.mode-cell.price").Text()),
	}
	if grade != "" {
		rec.Engine = normalize.EngineVolume(grade)
	}
	thumb, _ := s.Find("div.mode-cell.thumb img").First().Attr("src")
	return card{record: rec, thumb: strings.TrimSpace(thumb)}, true, nil
}

// PreviewURL turns a listing thumbnail into the full-size image URL.
func PreviewURL(thumb string) string {
	if strings.Contains(strings.ToLower(thumb), "cybercar") {
		thumb = strings.ReplaceAll(thumb, "thum5", "img")
		thumb = strings.ReplaceAll(thumb, ".jpg", "_1.jpg")
	} else {
		thumb = strings.ReplaceAll(thumb, "_s1", "")
	}
	if strings.HasPrefix(thumb, "//") {
		return "https:" + thumb
	}
	return thumb
}
