package kbchachacha

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/source"
	"github.com/JakeFAU/kr-car-crawler/internal/source/sourcetest"
	"github.com/JakeFAU/kr-car-crawler/internal/storage/memory"
)

const testBase = "https://kb.test"

func listHTML(ids ...int64) string {
	html := `<html><body><div class="generalRegist">`
	for _, id := range ids {
		html += fmt.Sprintf(
			`<div class="area" data-car-seq="%d"><a><img src="https://img.kb.test/car/%d.jpg?width=360"></a></div>`,
			id, id,
		)
	}
	return html + `</div></body></html>`
}

func newTestParser(req *sourcetest.Requester, blobs *memory.BlobStore) *Parser {
	p := New(req, source.NewPreviewSaver(req, blobs, nil), source.Options{
		PageConcurrency:   3,
		DetailConcurrency: 3,
		Logger:            zap.NewNop(),
	})
	p.baseURL = testBase
	return p
}

func TestCrawlEnrichesAndFlagsSoldListings(t *testing.T) {
	t.Parallel()

	req := sourcetest.NewRequester()
	blobs := memory.NewBlobStore()
	p := newTestParser(req, blobs)

	req.HandleJSON(testBase+filterPath, `{"optionSale":{"result":{"useCode":{"002008":"51","002001":0}}}}`)
	req.HandleHTML(p.listURL("002008", 1), listHTML(11, 12, 13))
	req.HandleHTML(p.listURL("002008", 2), listHTML(13, 14))
	req.HandleJSON(p.detailURL(11), `{"list":[{"makerName":"기아","className":"쏘렌토","modelName":"더 뉴 쏘렌토","gradeName":"2.2 디젤 4WD 노블레스","yymm":"201905","km":52000,"sellAmt":2450}]}`)
	req.HandleJSON(p.detailURL(12), `{"list":[]}`)
	req.HandleJSON(p.detailURL(14), `{"list":[{"makerName":"현대","className":"투싼","modelName":"","gradeName":"","yymm":2003,"km":"1,000","sellAmt":0}]}`)
	req.Handle("https://img.kb.test/car/11.jpg", "image/jpeg", []byte("img"))

	var batches [][]car.Record
	err := p.Crawl(context.Background(), func(_ context.Context, records []car.Record) error {
		batches = append(batches, records)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)

	byID := map[int64]car.Record{}
	for _, rec := range batches[0] {
		assert.Equal(t, "SUV", rec.BodyType)
		byID[rec.ID] = rec
	}
	require.Len(t, byID, 3, "listing 13 has no detail and is dropped")

	sorento := byID[11]
	assert.Equal(t, "기아", sorento.Mark)
	assert.Equal(t, "쏘렌토", sorento.Model)
	assert.Equal(t, "더 뉴 쏘렌토 2.2 디젤 4WD 노블레스", sorento.Grade)
	assert.Equal(t, car.Transmission4WD, sorento.Transmission)
	require.NotNil(t, sorento.Engine)
	assert.Equal(t, 2200, *sorento.Engine)
	assert.Equal(t, 2019, sorento.Year)
	assert.Equal(t, 52000, sorento.Mileage)
	require.NotNil(t, sorento.Price)
	assert.Equal(t, int64(24500000), *sorento.Price)
	assert.Equal(t, "memory://kbchachacha_11/11.jpg", sorento.Preview)
	assert.False(t, sorento.Deleted)

	sold := byID[12]
	assert.True(t, sold.Deleted)
	assert.Empty(t, sold.Mark)
	assert.Zero(t, req.Count("https://img.kb.test/car/12.jpg"))

	tucson := byID[14]
	assert.Equal(t, 2020, tucson.Year, "yymm 2003 is March 2020")
	assert.Equal(t, 1000, tucson.Mileage)
	assert.Nil(t, tucson.Price)
	assert.Empty(t, tucson.Grade)

	for _, r := range req.Requests() {
		if r.URL == p.detailURL(11) {
			assert.Equal(t, http.MethodPost, r.Method)
		}
	}
	assert.Zero(t, req.Count(p.listURL("002001", 1)))
}

func TestCrawlFailsWithoutCategoryCounts(t *testing.T) {
	t.Parallel()

	req := sourcetest.NewRequester()
	p := newTestParser(req, memory.NewBlobStore())
	err := p.Crawl(context.Background(), func(context.Context, []car.Record) error { return nil })
	require.ErrorContains(t, err, "category counts")
}

func TestCrawlCapsPages(t *testing.T) {
	t.Parallel()

	req := sourcetest.NewRequester()
	p := New(req, nil, source.Options{MaxPages: 2, Logger: zap.NewNop()})
	p.baseURL = testBase
	req.HandleJSON(testBase+filterPath, `{"optionSale":{"result":{"useCode":{"002011":100000}}}}`)

	require.NoError(t, p.Crawl(context.Background(), func(context.Context, []car.Record) error { return nil }))
	assert.Equal(t, 1, req.Count(p.listURL("002011", 2)))
	assert.Zero(t, req.Count(p.listURL("002011", 3)))
}
