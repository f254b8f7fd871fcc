package extractor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/marketplace"
)

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockSession) Settle(ctx context.Context, delay time.Duration) error {
	return m.Called(ctx, delay).Error(0)
}

func (m *MockSession) Content() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockSession) Screenshot(path string) error {
	return m.Called(path).Error(0)
}

func (m *MockSession) Close() error {
	return m.Called().Error(0)
}

type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Launch(ctx context.Context) (browser.Session, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.(browser.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

const listingHTML = `<html><body>
	<h1 class="product-page__title">Рюкзак городской</h1>
	<ins class="price-block__final-price">2 490 ₽</ins>
	<del class="price-block__old-price">3 990 ₽</del>
	<div class="swiper-slide-active"><img src="//basket-05.wbbasket.ru/vol9/big/1.webp"></div>
</body></html>`

func testOptions() Options {
	return Options{SettleDelay: time.Millisecond, ScreenshotPath: "/tmp/wb_debug.png"}
}

func TestExtractSuccess(t *testing.T) {
	session := new(MockSession)
	session.On("Navigate", mock.Anything, "https://www.wildberries.ru/catalog/123456/detail.aspx").Return(nil)
	session.On("Settle", mock.Anything, time.Millisecond).Return(nil)
	session.On("Content").Return(listingHTML, nil)
	session.On("Close").Return(nil).Once()

	launcher := new(MockLauncher)
	launcher.On("Launch", mock.Anything).Return(session, nil).Once()

	ex := New(launcher, testOptions(), nil)
	res, err := ex.Extract(context.Background(), marketplace.Wildberries(), "https://www.wildberries.ru/catalog/123456/detail.aspx")
	require.NoError(t, err)

	assert.Equal(t, "wildberries", res.Marketplace)
	assert.Equal(t, "123456", res.ArticleID)
	assert.Equal(t, "Рюкзак городской", res.DisplayName)
	assert.Equal(t, int64(2490), res.CurrentPrice)
	assert.Equal(t, int64(3990), res.PreviousPrice)
	assert.Equal(t, "https://basket-05.wbbasket.ru/vol9/big/1.webp", res.ImageURL)

	session.AssertNumberOfCalls(t, "Close", 1)
	session.AssertNotCalled(t, "Screenshot", mock.Anything)
	launcher.AssertExpectations(t)
}

func TestExtractNoDigitsNeverLaunches(t *testing.T) {
	launcher := new(MockLauncher)

	ex := New(launcher, testOptions(), nil)
	_, err := ex.Extract(context.Background(), marketplace.Wildberries(), "no article here")

	require.ErrorIs(t, err, ErrArticleNotFound)
	launcher.AssertNotCalled(t, "Launch", mock.Anything)
}

func TestExtractNavigationTimeout(t *testing.T) {
	navErr := fmt.Errorf("%w after 90s: Timeout 90000ms exceeded", browser.ErrNavigationTimeout)

	session := new(MockSession)
	session.On("Navigate", mock.Anything, mock.Anything).Return(navErr)
	session.On("Screenshot", "/tmp/wb_debug.png").Return(nil).Once()
	session.On("Close").Return(nil).Once()

	launcher := new(MockLauncher)
	launcher.On("Launch", mock.Anything).Return(session, nil)

	ex := New(launcher, testOptions(), nil)
	_, err := ex.Extract(context.Background(), marketplace.Wildberries(), "777")

	require.ErrorIs(t, err, ErrNavigationTimeout)
	require.ErrorIs(t, err, browser.ErrNavigationTimeout)

	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "777", extErr.Article)
	assert.Equal(t, "navigation_timeout", Outcome(err))

	session.AssertNumberOfCalls(t, "Close", 1)
	session.AssertNumberOfCalls(t, "Screenshot", 1)
	session.AssertNotCalled(t, "Content")
}

func TestExtractNavigationFailureWithBrokenScreenshot(t *testing.T) {
	session := new(MockSession)
	session.On("Navigate", mock.Anything, mock.Anything).Return(errors.New("net::ERR_CONNECTION_RESET"))
	session.On("Screenshot", mock.Anything).Return(errors.New("page crashed"))
	session.On("Close").Return(nil)

	launcher := new(MockLauncher)
	launcher.On("Launch", mock.Anything).Return(session, nil)

	ex := New(launcher, testOptions(), nil)
	_, err := ex.Extract(context.Background(), marketplace.Wildberries(), "777")

	require.ErrorIs(t, err, ErrNavigationFailed)
	assert.Contains(t, err.Error(), "ERR_CONNECTION_RESET")
	session.AssertNumberOfCalls(t, "Close", 1)
}

func TestExtractEmptyFields(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{"missing price", `<h1>Название</h1><ins class="price-block__final-price">нет в наличии</ins>`},
		{"missing name", `<ins class="price-block__final-price">100 ₽</ins>`},
		{"blank page", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := new(MockSession)
			session.On("Navigate", mock.Anything, mock.Anything).Return(nil)
			session.On("Settle", mock.Anything, mock.Anything).Return(nil)
			session.On("Content").Return(tt.html, nil)
			session.On("Screenshot", "/tmp/wb_debug.png").Return(nil).Once()
			session.On("Close").Return(nil)

			launcher := new(MockLauncher)
			launcher.On("Launch", mock.Anything).Return(session, nil)

			ex := New(launcher, testOptions(), nil)
			_, err := ex.Extract(context.Background(), marketplace.Wildberries(), "55")

			require.ErrorIs(t, err, ErrEmptyFields)
			session.AssertNumberOfCalls(t, "Screenshot", 1)
			session.AssertNumberOfCalls(t, "Close", 1)
		})
	}
}

func TestExtractLaunchFailure(t *testing.T) {
	launcher := new(MockLauncher)
	launcher.On("Launch", mock.Anything).Return(nil, errors.New("chromium missing"))

	ex := New(launcher, testOptions(), nil)
	_, err := ex.Extract(context.Background(), marketplace.Wildberries(), "55")

	require.ErrorIs(t, err, ErrBrowserLaunch)
	assert.Equal(t, "browser_launch", Outcome(err))
}

func TestExtractCancelledDuringSettle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := new(MockSession)
	session.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	session.On("Settle", mock.Anything, mock.Anything).Return(context.Canceled)
	session.On("Close").Return(nil)

	launcher := new(MockLauncher)
	launcher.On("Launch", mock.Anything).Return(session, nil)

	ex := New(launcher, testOptions(), nil)
	_, err := ex.Extract(ctx, marketplace.Wildberries(), "55")

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", Outcome(err))
	session.AssertNumberOfCalls(t, "Close", 1)
	session.AssertNotCalled(t, "Screenshot", mock.Anything)
}

func TestExtractCloseErrorDoesNotFailExtraction(t *testing.T) {
	session := new(MockSession)
	session.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	session.On("Settle", mock.Anything, mock.Anything).Return(nil)
	session.On("Content").Return(listingHTML, nil)
	session.On("Close").Return(errors.New("driver already gone"))

	launcher := new(MockLauncher)
	launcher.On("Launch", mock.Anything).Return(session, nil)

	ex := New(launcher, testOptions(), nil)
	_, err := ex.Extract(context.Background(), marketplace.Wildberries(), "55")
	assert.NoError(t, err)
}
