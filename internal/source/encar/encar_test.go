package encar

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/source"
	"github.com/JakeFAU/kr-car-crawler/internal/source/sourcetest"
	"github.com/JakeFAU/kr-car-crawler/internal/storage/memory"
)

const testBase = "https://encar.test"

func newTestParser(req *sourcetest.Requester, blobs *memory.BlobStore, maxPages int) *Parser {
	p := New(req, source.NewPreviewSaver(req, blobs, nil), source.Options{
		PageConcurrency:   2,
		DetailConcurrency: 2,
		MaxPages:          maxPages,
		Logger:            zap.NewNop(),
	})
	p.baseURL = testBase
	return p
}

func result(id int64, badge string, year string, photo string) string {
	return fmt.Sprintf(
		`{"Id":"%d","Manufacturer":"현대","Model":"아반떼 (CN7)","Badge":%q,"BadgeDetail":"","Transmission":"오토","FuelType":"가솔린","Year":%s,"Mileage":32000.0,"Price":1250.0,"Photo":%q}`,
		id, badge, year, photo,
	)
}

func page(count int, results ...string) string {
	return fmt.Sprintf(`{"Count":%d,"SearchResults":[%s]}`, count, strings.Join(results, ","))
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	p := newTestParser(sourcetest.NewRequester(), memory.NewBlobStore(), 0)
	raw := p.searchURL(Catalogs[0], "CarType.Y", "SUV", 598)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/search/car/list/premium", u.Path)
	assert.Equal(t, "true", u.Query().Get("count"))
	assert.Equal(t, "(And.Hidden.N._.CarType.Y._.Category.SUV.)", u.Query().Get("q"))
	assert.Equal(t, "|ModifiedDate|598|299", u.Query().Get("sr"))

	truck, err := url.Parse(p.searchURL(Catalogs[1], "Hidden.N", "버스", 0))
	require.NoError(t, err)
	assert.Equal(t, "/search/truck/list/premium", truck.Path)
	assert.Equal(t, "(And.Hidden.N._.Form.버스.)", truck.Query().Get("q"))
}

func TestCrawlAccumulatesClassesPerBody(t *testing.T) {
	t.Parallel()

	req := sourcetest.NewRequester()
	blobs := memory.NewBlobStore()
	p := newTestParser(req, blobs, 0)
	cars := Catalogs[0]

	req.HandleJSON(p.searchURL(cars, "CarType.N", "SUV", 0), page(300,
		result(101, "1.6 스마트", "202105.0", "/carpicture01/pic0101/101_"),
		result(102, "2.5 AWD 캘리그래피", "201911", ""),
	))
	req.HandleJSON(p.searchURL(cars, "CarType.N", "SUV", PageSize), page(300,
		result(103, "", "0", ""),
		result(101, "1.6 스마트", "202105.0", ""),
	))
	req.HandleJSON(p.searchURL(cars, "CarType.Y", "SUV", 0), page(1,
		result(201, "520i M 스포츠 RWD", "202003.0", ""),
	))
	req.Handle("https://ci.encar.com/carpicture/carpicture01/pic0101/101_001.jpg", "image/jpeg", []byte("img"))

	var batches [][]car.Record
	err := p.Crawl(context.Background(), func(_ context.Context, records []car.Record) error {
		batches = append(batches, records)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, batches, 1, "both classes of a body land in one batch")

	byID := map[int64]car.Record{}
	for _, rec := range batches[0] {
		assert.Equal(t, "SUV", rec.BodyType)
		assert.Equal(t, car.SourceEncar, rec.Source)
		byID[rec.ID] = rec
	}
	require.Len(t, byID, 3, "bad year dropped and duplicate collapsed")
	require.Len(t, batches[0], 3)

	avante := byID[101]
	assert.Equal(t, "현대", avante.Mark)
	assert.Equal(t, "아반떼 (CN7)", avante.Model)
	assert.Equal(t, "1.6 스마트", avante.Grade)
	assert.Equal(t, "오토", avante.Gearbox)
	assert.Equal(t, "가솔린", avante.Fuel)
	assert.Equal(t, 2021, avante.Year)
	assert.Equal(t, 32000, avante.Mileage)
	require.NotNil(t, avante.Engine)
	assert.Equal(t, 1600, *avante.Engine)
	require.NotNil(t, avante.Price)
	assert.Equal(t, int64(12500000), *avante.Price)
	assert.Equal(t, "memory://encar_101/101_001.jpg", avante.Preview)

	assert.Equal(t, car.TransmissionAWD, byID[102].Transmission)
	assert.Empty(t, byID[102].Preview)
	assert.Equal(t, 2019, byID[102].Year)
	assert.Equal(t, car.TransmissionRWD, byID[201].Transmission)
	assert.Equal(t, 2020, byID[201].Year)
}

func TestCrawlCapsPages(t *testing.T) {
	t.Parallel()

	req := sourcetest.NewRequester()
	p := newTestParser(req, memory.NewBlobStore(), 2)
	cars := Catalogs[0]
	req.HandleJSON(p.searchURL(cars, "CarType.N", "경차", 0), page(100000))

	require.NoError(t, p.Crawl(context.Background(), func(context.Context, []car.Record) error { return nil }))
	assert.Equal(t, 1, req.Count(p.searchURL(cars, "CarType.N", "경차", PageSize)))
	assert.Zero(t, req.Count(p.searchURL(cars, "CarType.N", "경차", 2*PageSize)))
}

func TestCrawlPropagatesSinkError(t *testing.T) {
	t.Parallel()

	req := sourcetest.NewRequester()
	p := newTestParser(req, memory.NewBlobStore(), 0)
	req.HandleJSON(p.searchURL(Catalogs[0], "CarType.N", "경차", 0), page(1, result(1, "", "2019", "")))

	err := p.Crawl(context.Background(), func(context.Context, []car.Record) error {
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
}

func TestPhotoURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t,
		"https://ci.encar.com/carpicture/carpicture07/pic3740/37405428_001.jpg",
		PhotoURL("/carpicture07/pic3740/37405428_"),
	)
}
