// cloud-sim stands in for the cloud detection provider: a TLS gRPC server
// running the bidirectional detection stream with mock inference. On startup
// it prints the base64 DER of its certificate, which is the value
// /api/register_provider expects in server_certification.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	cloudroutev1 "github.com/technosupport/guardcar/api/cloudroute/v1"
	"github.com/technosupport/guardcar/internal/selfsign"
)

// The label set the mock reports, matching the vehicle-relevant slice of the
// local model's vocabulary.
var mockLabels = []string{"person", "car", "truck", "bus", "motorcycle", "bicycle"}

type detectionServer struct{}

func (s *detectionServer) CloudRoute(_ context.Context, req *cloudroutev1.DetectionRequest) (*cloudroutev1.DetectionResult, error) {
	return infer(req), nil
}

func (s *detectionServer) CloudRouteStream(stream cloudroutev1.CloudRoute_CloudRouteStreamServer) error {
	log.Printf("[CloudSim] stream open")
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			log.Printf("[CloudSim] stream closed by client")
			return nil
		}
		if err != nil {
			log.Printf("[CloudSim] stream recv: %v", err)
			return err
		}
		if err := stream.Send(infer(req)); err != nil {
			log.Printf("[CloudSim] stream send: %v", err)
			return err
		}
	}
}

// infer fabricates plausible detections. When the JPEG decodes, boxes are
// sized and placed relative to the real frame; otherwise the declared
// dimensions are trusted.
func infer(req *cloudroutev1.DetectionRequest) *cloudroutev1.DetectionResult {
	w, h := int(req.Width), int(req.Height)
	if img, err := jpeg.Decode(bytes.NewReader(req.Frame)); err == nil {
		b := img.Bounds()
		w, h = b.Dx(), b.Dy()
	}
	if w <= 0 || h <= 0 {
		w, h = 1280, 480
	}

	res := &cloudroutev1.DetectionResult{FrameID: req.FrameID}
	for i := 0; i < 1+rand.Intn(3); i++ {
		bw := float32(w) * (0.1 + 0.3*rand.Float32())
		bh := float32(h) * (0.2 + 0.4*rand.Float32())
		x1 := rand.Float32() * (float32(w) - bw)
		y1 := rand.Float32() * (float32(h) - bh)
		res.Detections = append(res.Detections, &cloudroutev1.Detection{
			ClassName:  mockLabels[rand.Intn(len(mockLabels))],
			Confidence: 0.5 + 0.5*rand.Float32(),
			X1:         x1,
			Y1:         y1,
			X2:         x1 + bw,
			Y2:         y1 + bh,
		})
	}
	return res
}

func main() {
	port := getEnvInt("PORT", 50051)
	advertiseIP := os.Getenv("ADVERTISE_IP")

	ident, err := selfsign.New("guardcar-cloud-sim", advertiseIP)
	if err != nil {
		log.Fatalf("[CloudSim] certificate: %v", err)
	}
	log.Printf("[CloudSim] server_certification (base64 DER):\n%s",
		base64.StdEncoding.EncodeToString(ident.DER))

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.Fatalf("[CloudSim] listen: %v", err)
	}

	server := grpc.NewServer(
		grpc.Creds(credentials.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{ident.TLSCert},
			MinVersion:   tls.VersionTLS12,
		})),
		grpc.ForceServerCodec(cloudroutev1.Codec{}),
	)
	cloudroutev1.RegisterCloudRouteServer(server, &detectionServer{})

	log.Printf("[CloudSim] detection stream on :%d", port)
	if err := server.Serve(ln); err != nil {
		log.Fatalf("[CloudSim] serve: %v", err)
	}
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
