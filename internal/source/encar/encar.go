// Package encar crawls the encar.com premium search API.
package encar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/dispatcher"
	"github.com/JakeFAU/kr-car-crawler/internal/normalize"
	"github.com/JakeFAU/kr-car-crawler/internal/source"
)

const (
	defaultBaseURL = "http://api.encar.com"
	photoBaseURL   = "https://ci.encar.com/carpicture"
	// PageSize is the search window requested per call.
	PageSize = 299
	// DefaultMaxPages caps pagination per (class, body) partition.
	DefaultMaxPages = 80
)

// Catalog is one search endpoint with its vehicle classes and body filters.
type Catalog struct {
	Path    string
	Classes []string
	Bodies  []string
	query   func(class, body string) string
}

// Catalogs lists the passenger-car and truck searches.
var Catalogs = []Catalog{
	{
		Path:    "/search/car/list/premium",
		Classes: []string{"CarType.N", "CarType.Y"},
		Bodies: []string{
			"경차", "소형차", "준중형차", "중형차", "대형차", "스포츠카", "SUV", "RV", "경승합차", "승합차", "화물차",
		},
		query: func(class, body string) string {
			return fmt.Sprintf("(And.Hidden.N._.%s._.Category.%s.)", class, body)
		},
	},
	{
		Path:    "/search/truck/list/premium",
		Classes: []string{"Hidden.N"},
		Bodies: []string{
			"카고(화물_)트럭", "윙바디/탑", "버스", "덤프/건설/중기", "크레인 형태", "탱크로리",
			"캠핑카/캠핑 트레일러", "폐기/음식물수송", "활어차", "차량견인/운송", "트렉터", "트레일러",
		},
		query: func(class, body string) string {
			return fmt.Sprintf("(And.%s._.Form.%s.)", class, body)
		},
	},
}

type searchResponse struct {
	Count         int            `json:"Count"`
	SearchResults []searchResult `json:"SearchResults"`
}

type searchResult struct {
	ID           source.Number `json:"Id"`
	Manufacturer string        `json:"Manufacturer"`
	Model        string        `json:"Model"`
	Badge        string        `json:"Badge"`
	BadgeDetail  string        `json:"BadgeDetail"`
	Transmission string        `json:"Transmission"`
	FuelType     string        `json:"FuelType"`
	Year         source.Number `json:"Year"`
	Mileage      source.Number `json:"Mileage"`
	Price        source.Number `json:"Price"`
	Photo        string        `json:"Photo"`
}

// Parser crawls encar.
type Parser struct {
	requester source.Requester
	previews  *source.PreviewSaver
	opts      source.Options
	logger    *zap.Logger
	baseURL   string
}

// New builds an encar parser.
func New(requester source.Requester, previews *source.PreviewSaver, opts source.Options) *Parser {
	opts = opts.WithDefaults(DefaultMaxPages)
	return &Parser{
		requester: requester,
		previews:  previews,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("source", string(car.SourceEncar))),
		baseURL:   defaultBaseURL,
	}
}

// Name implements source.Parser.
func (p *Parser) Name() car.Source {
	return car.SourceEncar
}

// Crawl walks every catalog body across its classes, emitting one batch per body.
func (p *Parser) Crawl(ctx context.Context, sink source.Sink) error {
	for _, catalog := range Catalogs {
		for _, body := range catalog.Bodies {
			var batch []car.Record
			for _, class := range catalog.Classes {
				records, err := p.crawlPartition(ctx, catalog, class, body)
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
	}
	return nil
}

func (p *Parser) crawlPartition(ctx context.Context, catalog Catalog, class, body string) ([]car.Record, error) {
	logger := p.logger.With(zap.String("class", class), zap.String("body_type", body))

	first, err := p.search(ctx, catalog, class, body, 0)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("first page unavailable, skipping partition", zap.Error(err))
		return nil, nil
	}
	pages := source.PageCount(first.Count, PageSize, p.opts.MaxPages)
	logger.Info("partition discovered", zap.Int("total", first.Count), zap.Int("pages", pages))
	if pages == 0 {
		return nil, nil
	}

	results := first.SearchResults
	rest, err := source.Collect(ctx, source.Pages(pages)[1:], p.opts.PageConcurrency,
		func(ctx context.Context, page int) ([]searchResult, bool) {
			resp, err := p.search(ctx, catalog, class, body, (page-1)*PageSize)
			if err != nil {
				logger.Warn("search page skipped", zap.Int("page", page), zap.Error(err))
				return nil, false
			}
			return resp.SearchResults, true
		})
	if err != nil {
		return nil, err
	}
	for _, page := range rest {
		results = append(results, page...)
	}

	return source.Collect(ctx, results, p.opts.DetailConcurrency, func(ctx context.Context, r searchResult) (car.Record, bool) {
		rec, err := toRecord(r, body)
		if err != nil {
			logger.Debug("search result skipped", zap.Error(err))
			return car.Record{}, false
		}
		if r.Photo != "" {
			rec.Preview = p.previews.Save(ctx, car.SourceEncar, rec.ID, PhotoURL(r.Photo))
		}
		return rec, true
	})
}

func (p *Parser) searchURL(catalog Catalog, class, body string, offset int) string {
	q := url.Values{}
	q.Set("count", "true")
	q.Set("q", catalog.query(class, body))
	q.Set("sr", "|ModifiedDate|"+strconv.Itoa(offset)+"|"+strconv.Itoa(PageSize))
	return p.baseURL + catalog.Path + "?" + q.Encode()
}

func (p *Parser) search(ctx context.Context, catalog Catalog, class, body string, offset int) (*searchResponse, error) {
	resp, err := p.requester.Do(ctx, dispatcher.Request{
		Method: http.MethodGet,
		URL:    p.searchURL(catalog, class, body, offset),
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out searchResponse
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func toRecord(r searchResult, body string) (car.Record, error) {
	id := r.ID.Int64()
	if id <= 0 {
		return car.Record{}, fmt.Errorf("search result without id")
	}
	year, err := normalize.YearFromYYYYMM(r.Year.String())
	if err != nil {
		return car.Record{}, err
	}
	grade := strings.TrimSpace(r.Badge + " " + r.BadgeDetail)
	rec := car.Record{
		Source:       car.SourceEncar,
		ID:           id,
		BodyType:     body,
		Mark:         strings.TrimSpace(r.Manufacturer),
		Model:        strings.TrimSpace(r.Model),
		Grade:        grade,
		Gearbox:      strings.TrimSpace(r.Transmission),
		Transmission: normalize.DefaultTransmission.Match(grade),
		Engine:       normalize.EngineVolume(grade),
		Year:         year,
		Fuel:         strings.TrimSpace(r.FuelType),
		Mileage:      int(r.Mileage.Int64()),
	}
	if amount := r.Price.Int64(); amount > 0 {
		price := normalize.ManWon(amount)
		rec.Price = &price
	}
	return rec, nil
}

// PhotoURL expands a search result's photo stem into the first gallery image.
func PhotoURL(photo string) string {
	return photoBaseURL + photo + "001.jpg"
}
