package stream

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const master = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
360p/video.m3u8
#EXT-X-STREAM-INF:AVERAGE-BANDWIDTH=9000000,BANDWIDTH=2500000,CODECS="avc1.64001f,mp4a.40.2",RESOLUTION=1280x720
720p/video.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
alt720/video.m3u8
#EXT-X-STREAM-INF:RESOLUTION=1920x1080
1080p/video.m3u8
`

func TestSelectBestVariant(t *testing.T) {
	Convey("SelectBestVariant", t, func() {
		base := "https://cdn.example.test/hls/abc/playlist.m3u8"

		Convey("取最高码率，并列时保留先出现的", func() {
			So(SelectBestVariant(master, base), ShouldEqual, "https://cdn.example.test/hls/abc/720p/video.m3u8")
		})

		Convey("AVERAGE-BANDWIDTH 不会被当成 BANDWIDTH", func() {
			vs := ParseVariants(master)
			So(len(vs), ShouldEqual, 4)
			So(vs[1].Bandwidth, ShouldEqual, 2500000)
			So(vs[3].Bandwidth, ShouldEqual, 0)
		})

		Convey("结果总是绝对 URL", func() {
			got := SelectBestVariant("#EXT-X-STREAM-INF:BANDWIDTH=1\n/root/a.m3u8\n", base)
			u, err := url.Parse(got)
			So(err, ShouldBeNil)
			So(u.IsAbs(), ShouldBeTrue)
			So(got, ShouldEqual, "https://cdn.example.test/root/a.m3u8")

			got = SelectBestVariant("#EXT-X-STREAM-INF:BANDWIDTH=1\nhttps://other.test/x.m3u8\n", base)
			So(got, ShouldEqual, "https://other.test/x.m3u8")
		})

		Convey("没有 STREAM-INF 时原样返回 manifestURL", func() {
			media := "#EXTM3U\n#EXTINF:10,\nseg0.ts\n#EXT-X-ENDLIST\n"
			So(SelectBestVariant(media, base), ShouldEqual, base)
			So(SelectBestVariant("", base), ShouldEqual, base)
		})

		Convey("并列档位重排不改变“先出现者胜”", func() {
			a := "#EXT-X-STREAM-INF:BANDWIDTH=5\na.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=5\nb.m3u8\n"
			b := "#EXT-X-STREAM-INF:BANDWIDTH=5\nb.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=5\na.m3u8\n"
			So(SelectBestVariant(a, base), ShouldEqual, "https://cdn.example.test/hls/abc/a.m3u8")
			So(SelectBestVariant(b, base), ShouldEqual, "https://cdn.example.test/hls/abc/b.m3u8")
		})
	})
}

type stubFetcher struct {
	body  string
	err   error
	calls int
}

func (f *stubFetcher) FetchText(ctx context.Context, rawURL string, timeout time.Duration, headers map[string]string) (string, error) {
	f.calls++
	return f.body, f.err
}

func TestManifestSelector_FetchErrorKeepsMaster(t *testing.T) {
	sel := ManifestSelector{Fetcher: &stubFetcher{err: errors.New("timeout")}}
	got := sel.Best(context.Background(), "https://cdn.example.test/m.m3u8")
	if got != "https://cdn.example.test/m.m3u8" {
		t.Fatalf("期望回落到 manifestURL，实际 %q", got)
	}
}

func TestManifestSelector_PicksBest(t *testing.T) {
	sel := ManifestSelector{Fetcher: &stubFetcher{body: master}}
	got := sel.Best(context.Background(), "https://cdn.example.test/hls/abc/playlist.m3u8")
	if got != "https://cdn.example.test/hls/abc/720p/video.m3u8" {
		t.Fatalf("期望 720p 档位，实际 %q", got)
	}
}
