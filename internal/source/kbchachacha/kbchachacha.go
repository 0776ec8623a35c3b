// Package kbchachacha crawls kbchachacha.com listings and enriches them from
// the per-car detail endpoint.
package kbchachacha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
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
	defaultBaseURL = "https://www.kbchachacha.com"
	filterPath     = "/public/search/optionSale.json"
	listPath       = "/public/search/list.empty"
	detailPath     = "/public/car/common/recent/car/list.json"
	// PageSize is the number of cards requested per listing page.
	PageSize = 50
	// DefaultMaxPages caps pagination per body category.
	DefaultMaxPages = 60
)

// BodyType pairs a useCode filter with its stored body name.
type BodyType struct {
	Code string
	Name string
}

// BodyTypes is the useCode catalogue crawled in order.
var BodyTypes = []BodyType{
	{"002001", "경차"},
	{"002002", "소형"},
	{"002003", "준중형"},
	{"002004", "중형"},
	{"002005", "대형"},
	{"002006", "스포츠카"},
	{"002007", "RV"},
	{"002008", "SUV"},
	{"002009", "승합"},
	{"002010", "버스"},
	{"002011", "트럭"},
}

type filterResponse struct {
	OptionSale struct {
		Result struct {
			UseCode map[string]source.Number `json:"useCode"`
		} `json:"result"`
	} `json:"optionSale"`
}

type detailResponse struct {
	List []struct {
		MakerName string        `json:"makerName"`
		ClassName string        `json:"className"`
		ModelName string        `json:"modelName"`
		GradeName string        `json:"gradeName"`
		YYMM      source.Number `json:"yymm"`
		Km        source.Number `json:"km"`
		SellAmt   source.Number `json:"sellAmt"`
	} `json:"list"`
}

type summary struct {
	id      int64
	preview string
	body    string
}

// Parser crawls kbchachacha.
type Parser struct {
	requester source.Requester
	previews  *source.PreviewSaver
	opts      source.Options
	logger    *zap.Logger
	baseURL   string
}

// New builds a kbchachacha parser.
func New(requester source.Requester, previews *source.PreviewSaver, opts source.Options) *Parser {
	opts = opts.WithDefaults(DefaultMaxPages)
	return &Parser{
		requester: requester,
		previews:  previews,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("source", string(car.SourceKBChaChaCha))),
		baseURL:   defaultBaseURL,
	}
}

// Name implements source.Parser.
func (p *Parser) Name() car.Source {
	return car.SourceKBChaChaCha
}

// Crawl reads the per-category counts, then crawls and enriches each category,
// emitting one batch per category.
func (p *Parser) Crawl(ctx context.Context, sink source.Sink) error {
	counts, err := p.categoryCounts(ctx)
	if err != nil {
		return err
	}
	for _, body := range BodyTypes {
		records, err := p.crawlCategory(ctx, body, int(counts[body.Code].Int64()))
		if err != nil {
			return err
		}
		if len(records) == 0 {
			continue
		}
		if err := sink(ctx, records); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) categoryCounts(ctx context.Context) (map[string]source.Number, error) {
	resp, err := p.requester.Do(ctx, dispatcher.Request{Method: http.MethodGet, URL: p.baseURL + filterPath})
	if err != nil {
		return nil, fmt.Errorf("fetch category counts: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch category counts: status %d", resp.StatusCode)
	}
	var filters filterResponse
	if err := resp.JSON(&filters); err != nil {
		return nil, err
	}
	return filters.OptionSale.Result.UseCode, nil
}

func (p *Parser) crawlCategory(ctx context.Context, body BodyType, total int) ([]car.Record, error) {
	logger := p.logger.With(zap.String("body_type", body.Name))
	pages := source.PageCount(total, PageSize, p.opts.MaxPages)
	logger.Info("category discovered", zap.Int("total", total), zap.Int("pages", pages))
	if pages == 0 {
		return nil, nil
	}

	pageResults, err := source.Collect(ctx, source.Pages(pages), p.opts.PageConcurrency,
		func(ctx context.Context, page int) ([]summary, bool) {
			found, err := p.listPage(ctx, body, page)
			if err != nil {
				logger.Warn("listing page skipped", zap.Int("page", page), zap.Error(err))
				return nil, false
			}
			return found, true
		})
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var summaries []summary
	for _, found := range pageResults {
		for _, s := range found {
			if _, dup := seen[s.id]; dup {
				continue
			}
			seen[s.id] = struct{}{}
			summaries = append(summaries, s)
		}
	}

	return source.Collect(ctx, summaries, p.opts.DetailConcurrency, func(ctx context.Context, s summary) (car.Record, bool) {
		rec, err := p.enrich(ctx, s)
		if err != nil {
			logger.Warn("detail unavailable, listing dropped", zap.Int64("car_id", s.id), zap.Error(err))
			return car.Record{}, false
		}
		return rec, true
	})
}

func (p *Parser) listURL(code string, page int) string {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(PageSize))
	q.Set("useCode", code)
	q.Set("page", strconv.Itoa(page))
	return p.baseURL + listPath + "?" + q.Encode()
}

func (p *Parser) detailURL(id int64) string {
	q := url.Values{}
	q.Set("gotoPage", "1")
	q.Set("pageSize", "1")
	q.Set("carSeqVal", strconv.FormatInt(id, 10))
	return p.baseURL + detailPath + "?" + q.Encode()
}

func (p *Parser) listPage(ctx context.Context, body BodyType, page int) ([]summary, error) {
	resp, err := p.requester.Do(ctx, dispatcher.Request{Method: http.MethodGet, URL: p.listURL(body.Code, page)})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	general := doc.Find("div.generalRegist")
	if general.Length() == 0 {
		return nil, errors.New("general listing block missing")
	}
	var out []summary
	general.Find("div.area").Each(func(_ int, s *goquery.Selection) {
		id, err := strconv.ParseInt(strings.TrimSpace(s.AttrOr("data-car-seq", "")), 10, 64)
		if err != nil {
			return
		}
		img := s.Find("img").First().AttrOr("src", "")
		out = append(out, summary{
			id:      id,
			preview: strings.Replace(img, "?width=360", "", 1),
			body:    body.Name,
		})
	})
	return out, nil
}

func (p *Parser) enrich(ctx context.Context, s summary) (car.Record, error) {
	rec := car.Record{Source: car.SourceKBChaChaCha, ID: s.id, BodyType: s.body}

	resp, err := p.requester.Do(ctx, dispatcher.Request{
		Method:  http.MethodPost,
		URL:     p.detailURL(s.id),
		Headers: http.Header{"X-Requested-With": {"XMLHttpRequest"}},
	})
	if err != nil {
		return rec, err
	}
	if !resp.OK() {
		return rec, fmt.Errorf("status %d", resp.StatusCode)
	}
	var detail detailResponse
	if err := resp.JSON(&detail); err != nil {
		return rec, err
	}
	if len(detail.List) == 0 {
		p.logger.Info("listing sold", zap.Int64("car_id", s.id))
		rec.Deleted = true
		return rec, nil
	}

	d := detail.List[0]
	year, err := normalize.YearFromYYMM(d.YYMM.String())
	if err != nil {
		return rec, err
	}
	rec.Mark = strings.TrimSpace(d.MakerName)
	rec.Model = strings.TrimSpace(d.ClassName)
	rec.Grade = strings.TrimSpace(d.ModelName + " " + d.GradeName)
	rec.Transmission = normalize.DefaultTransmission.Match(rec.Grade)
	rec.Engine = normalize.EngineVolume(rec.Grade)
	rec.Year = year
	rec.Mileage = int(d.Km.Int64())
	if amount := d.SellAmt.Int64(); amount > 0 {
		price := normalize.ManWon(amount)
		rec.Price = &price
	}
	rec.Preview = p.previews.Save(ctx, car.SourceKBChaChaCha, s.id, s.preview)
	return rec, nil
}
