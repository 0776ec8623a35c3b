package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
)

func TestEngineVolume(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  *int
	}{
		{"embedded", "가솔린 2.0 터보", intPtr(2000)},
		{"two digit litres", "V12 12.3 트윈터보", intPtr(12300)},
		{"first match wins", "1.6 터보 2.0", intPtr(1600)},
		{"tenths stay exact", "4.6 AWD", intPtr(4600)},
		{"no decimal", "가솔린 터보", nil},
		{"empty", "", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, EngineVolume(tc.input))
		})
	}
}

func TestMileage(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input string
		want  int
	}{
		{"3만2천km", 32000},
		{"50000km", 50000},
		{"50,000km", 50000},
		{" 1.5만km ", 15000},
		{"8천km", 8000},
		{"10000ml", 16000},
		{"km", 0},
		{"정보없음", 0},
		{"", 0},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Mileage(tc.input))
		})
	}
}

func TestPrice(t *testing.T) {
	t.Parallel()

	got := Price("1,250만원")
	require.NotNil(t, got)
	assert.Equal(t, int64(12500000), *got)

	got = Price(" 980만원 ")
	require.NotNil(t, got)
	assert.Equal(t, int64(9800000), *got)

	assert.Nil(t, Price("상담"))
	assert.Nil(t, Price("1,250원"))
	assert.Nil(t, Price(""))
}

func TestYear(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input string
		want  int
	}{
		{"(23/05)", 2023},
		{"21/00", 2021},
		{"19/11", 2019},
		{" 19/11(20년형) ", 2020},
		{"(2018년형)", 2018},
		{"98/03", 1998},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			got, err := Year(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Year("연식미상")
	require.Error(t, err)
	_, err = Year("19/13")
	require.Error(t, err)
}

func TestYearFromYYMM(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input string
		want  int
	}{
		{"1905", 2019},
		{"2003", 2020},
		{"2012", 2020},
		{"2105", 2021},
		{"9812", 1998},
		{"201905", 2019},
		{"202305.0", 2023},
	}
	for _, tc := range testCases {
		got, err := YearFromYYMM(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}

	for _, bad := range []string{"n/a", "23", "20031", ""} {
		_, err := YearFromYYMM(bad)
		require.Error(t, err, bad)
	}
}

func TestYearFromYYYYMM(t *testing.T) {
	t.Parallel()

	got, err := YearFromYYYYMM("201905")
	require.NoError(t, err)
	assert.Equal(t, 2019, got)

	got, err = YearFromYYYYMM("202003.0")
	require.NoError(t, err)
	assert.Equal(t, 2020, got)

	_, err = YearFromYYYYMM("2003")
	require.Error(t, err)
}

func TestTransmissionMatchers(t *testing.T) {
	t.Parallel()

	boba := NewTransmissionMatcher(BobaedreamDrives)
	assert.Equal(t, car.TransmissionRWD, boba.Match("가솔린 | FR | 오토"))
	assert.Equal(t, car.TransmissionRWD, boba.Match("RR 6단"))
	assert.Equal(t, car.TransmissionFWD, boba.Match("FF"))
	assert.Equal(t, car.TransmissionAWD, boba.Match("2.0 AWD 4WD"))
	assert.Equal(t, car.Transmission(""), boba.Match("정보없음"))

	assert.Equal(t, car.Transmission4WD, DefaultTransmission.Match("3.0 디젤 4WD 프레스티지"))
	assert.Equal(t, car.Transmission(""), DefaultTransmission.Match("FR"))
}

func TestSplitTitle(t *testing.T) {
	t.Parallel()

	mark, model, grade := SplitTitle("현대 더 뉴 그랜저 IG 2.5 프리미엄")
	assert.Equal(t, "현대", mark)
	assert.Equal(t, "그랜저", model)
	assert.Equal(t, "IG 2.5 프리미엄", grade)

	mark, model, grade = SplitTitle("  기아   올 모닝 ")
	assert.Equal(t, "기아", mark)
	assert.Equal(t, "모닝", model)
	assert.Empty(t, grade)

	mark, model, grade = SplitTitle("")
	assert.Empty(t, mark)
	assert.Empty(t, model)
	assert.Empty(t, grade)
}

func TestManWon(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(35000000), ManWon(3500))
}

func intPtr(v int) *int { return &v }
