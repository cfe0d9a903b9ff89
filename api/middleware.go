package api

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/golang-jwt/jwt"
	"github.com/prometheus/client_golang/prometheus"
)

var FUSENETMD_SECRET = os.Getenv("FUSENETMD_SECRET")

const MOD_NAME = "fusenetmd"

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("not a token")
	ErrTokenInvalid   = errors.New("token invalid")
)

var (
	requestTime  *kitprometheus.Histogram
	requestCount *kitprometheus.Counter
)

func init() {
	requestTime = kitprometheus.NewHistogramFrom(prometheus.HistogramOpts{
		Namespace: "fusenetmd",
		Subsystem: "api",
		Name:      "request_time",
		Help:      "api request time cost.",
	}, []string{"method", "path"})

	requestCount = kitprometheus.NewCounterFrom(prometheus.CounterOpts{
		Namespace: "fusenetmd",
		Subsystem: "api",
		Name:      "request_count",
		Help:      "api request count.",
	}, []string{"method", "path", "code"})
}

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		requestTime.With(
			"method", c.Request.Method,
			"path", c.FullPath(),
		).Observe(time.Since(start).Seconds())
		requestCount.With(
			"method", c.Request.Method,
			"path", c.FullPath(),
			"code", strconv.Itoa(c.Writer.Status()),
		).Add(1)
	}
}

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

type Claims struct {
	jwt.StandardClaims
}

// GenerateToken mints a bearer token for the control API. Only useful
// when FUSENETMD_SECRET is set; without a secret the API is open.
func GenerateToken() (string, int64, error) {
	expireTime := time.Now().Add(24 * time.Hour).Unix()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		jwt.StandardClaims{
			ExpiresAt: expireTime,
			Issuer:    MOD_NAME,
		},
	}).SignedString([]byte(FUSENETMD_SECRET))
	return token, expireTime, err
}

func ParseToken(token string) (*Claims, error) {
	tokenClaims, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(FUSENETMD_SECRET), nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors&jwt.ValidationErrorMalformed != 0 {
				return nil, ErrTokenMalformed
			} else if ve.Errors&jwt.ValidationErrorExpired != 0 {
				return nil, ErrTokenExpired
			}
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	return tokenClaims.Claims.(*Claims), nil
}

// JWT guards the API with a bearer token when FUSENETMD_SECRET is set.
func JWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		if FUSENETMD_SECRET == "" {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			AbortResponse(c, 401, "missing token")
			return
		}
		if _, err := ParseToken(token); err != nil {
			AbortResponse(c, 401, err.Error())
			return
		}
		c.Next()
	}
}
