package domain

import "math"

// WGS84 / UTM transverse Mercator, series form. Constants follow the usual
// Krueger expansion on the WGS84 ellipsoid; accuracy is centimeter-level
// anywhere inside a zone, which is far below the cell sizes this system
// works at.
const (
	wgs84Radius = 6378137.0
	utmScale    = 0.9996
	utmFalseE   = 500000.0
	utmFalseN   = 10000000.0

	ecc  = 0.00669437999014 // first eccentricity squared
	ecc2 = ecc * ecc
	ecc3 = ecc2 * ecc
	eccP = ecc / (1 - ecc) // second eccentricity squared

	m1 = 1 - ecc/4 - 3*ecc2/64 - 5*ecc3/256
	m2 = 3*ecc/8 + 3*ecc2/32 + 45*ecc3/1024
	m3 = 15*ecc2/256 + 45*ecc3/1024
	m4 = 35 * ecc3 / 3072
)

// rectifying-latitude coefficients for the inverse series.
var (
	sqrtE = math.Sqrt(1 - ecc)
	eFrac = (1 - sqrtE) / (1 + sqrtE)

	eFrac2 = eFrac * eFrac
	eFrac3 = eFrac2 * eFrac
	eFrac4 = eFrac3 * eFrac
	eFrac5 = eFrac4 * eFrac

	p2 = 3*eFrac/2 - 27*eFrac3/32 + 269*eFrac5/512
	p3 = 21*eFrac2/16 - 55*eFrac4/32
	p4 = 151*eFrac3/96 - 417*eFrac5/128
	p5 = 1097 * eFrac4 / 512
)

// centralMeridian returns the central longitude of a UTM zone in degrees.
func centralMeridian(zone int) float64 {
	return float64((zone-1)*6 - 180 + 3)
}

// LatLonToUTM projects a WGS84 coordinate into the zone identified by a UTM
// EPSG code (326xx north, 327xx south).
func LatLonToUTM(lat, lon float64, epsg int) (x, y float64) {
	return utmForward(lat, lon, epsg%100)
}

// UTMToLatLon converts UTM meters in the zone identified by epsg back to
// WGS84 degrees.
func UTMToLatLon(x, y float64, epsg int) (lat, lon float64) {
	return utmInverse(x, y, epsg%100, epsg < 32700)
}

// utmForward projects a WGS84 coordinate into the given UTM zone, returning
// easting and northing in meters (southern-hemisphere points carry the
// 10,000 km false northing).
func utmForward(lat, lon float64, zone int) (easting, northing float64) {
	latRad := lat * math.Pi / 180
	latSin, latCos := math.Sincos(latRad)
	latTan := latSin / latCos
	latTan2 := latTan * latTan
	latTan4 := latTan2 * latTan2

	dLon := wrapRadians((lon - centralMeridian(zone)) * math.Pi / 180)

	n := wgs84Radius / math.Sqrt(1-ecc*latSin*latSin)
	c := eccP * latCos * latCos

	a := latCos * dLon
	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	m := wgs84Radius * (m1*latRad - m2*math.Sin(2*latRad) + m3*math.Sin(4*latRad) - m4*math.Sin(6*latRad))

	easting = utmScale*n*(a+
		a3/6*(1-latTan2+c)+
		a5/120*(5-18*latTan2+latTan4+72*c-58*eccP)) + utmFalseE

	northing = utmScale * (m + n*latTan*(a2/2+
		a4/24*(5-latTan2+9*c+4*c*c)+
		a6/720*(61-58*latTan2+latTan4+600*c-330*eccP)))
	if lat < 0 {
		northing += utmFalseN
	}
	return easting, northing
}

// utmInverse converts UTM easting/northing in the given zone back to WGS84
// degrees. northern selects whether the northing carries a false northing.
func utmInverse(easting, northing float64, zone int, northern bool) (lat, lon float64) {
	x := easting - utmFalseE
	y := northing
	if !northern {
		y -= utmFalseN
	}

	m := y / utmScale
	mu := m / (wgs84Radius * m1)

	pRad := mu +
		p2*math.Sin(2*mu) +
		p3*math.Sin(4*mu) +
		p4*math.Sin(6*mu) +
		p5*math.Sin(8*mu)

	pSin, pCos := math.Sincos(pRad)
	pTan := pSin / pCos
	pTan2 := pTan * pTan
	pTan4 := pTan2 * pTan2

	epSin := 1 - ecc*pSin*pSin
	epSinSqrt := math.Sqrt(epSin)

	n := wgs84Radius / epSinSqrt
	rad := (1 - ecc) / epSin

	c := eccP * pCos * pCos
	c2 := c * c

	d := x / (n * utmScale)
	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	latRad := pRad - (pTan/rad)*(d2/2-
		d4/24*(5+3*pTan2+10*c-4*c2-9*eccP)+
		d6/720*(61+90*pTan2+298*c+45*pTan4-252*eccP-3*c2))

	lonRad := (d -
		d3/6*(1+2*pTan2+c) +
		d5/120*(5-2*c+28*pTan2-3*c2+8*eccP+24*pTan4)) / pCos

	lat = latRad * 180 / math.Pi
	lon = centralMeridian(zone) + lonRad*180/math.Pi
	return lat, lon
}

// wrapRadians normalizes an angle into (-pi, pi].
func wrapRadians(a float64) float64 {
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}
