package netinfo

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/oschwald/geoip2-golang"

	"github.com/okian/draftwatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeReader struct {
	records map[string]*geoip2.ASN
	calls   int
	closed  bool
}

func (f *fakeReader) ASN(ip net.IP) (*geoip2.ASN, error) {
	f.calls++
	if rec, ok := f.records[ip.String()]; ok {
		return rec, nil
	}
	return &geoip2.ASN{}, nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestResolver(t *testing.T) {
	Convey("Given a resolver over an ASN database", t, func() {
		ctx := context.Background()
		reader := &fakeReader{records: map[string]*geoip2.ASN{
			"203.0.113.7":  {AutonomousSystemNumber: 64500, AutonomousSystemOrganization: "Campus Wireless"},
			"198.51.100.1": {AutonomousSystemNumber: 64501, AutonomousSystemOrganization: "Metro Fiber"},
		}}
		r := newResolver(reader, WithCacheSize(1), WithLogger(logger.Nop()))

		Convey("When a known address is resolved twice", func() {
			first, err := r.Organization(ctx, "203.0.113.7")
			So(err, ShouldBeNil)
			second, err := r.Organization(ctx, "203.0.113.7")
			So(err, ShouldBeNil)

			Convey("Then the organisation is named and cached", func() {
				So(first, ShouldEqual, "AS64500 Campus Wireless")
				So(second, ShouldEqual, first)
				So(reader.calls, ShouldEqual, 1)
			})
		})

		Convey("When the cache is full", func() {
			_, _ = r.Organization(ctx, "203.0.113.7")
			org, err := r.Organization(ctx, "198.51.100.1")

			Convey("Then it is reset rather than grown", func() {
				So(err, ShouldBeNil)
				So(org, ShouldEqual, "AS64501 Metro Fiber")
				So(r.cache, ShouldHaveLength, 1)
			})
		})

		Convey("When the address is unknown or malformed", func() {
			_, err := r.Organization(ctx, "192.0.2.1")
			So(errors.Is(err, ErrUnknownNetwork), ShouldBeTrue)

			_, err = r.Organization(ctx, "not-an-ip")
			So(errors.Is(err, ErrInvalidAddress), ShouldBeTrue)
		})

		Convey("When it is closed", func() {
			So(r.Close(), ShouldBeNil)
			So(reader.closed, ShouldBeTrue)
		})
	})

	Convey("Given a missing database file", t, func() {
		_, err := Open(filepath.Join(t.TempDir(), "GeoLite2-ASN.mmdb"))
		So(err, ShouldNotBeNil)
	})
}
