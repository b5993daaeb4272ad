package occupancy

import "fmt"

// Params holds the image pipeline constants. They are tuned for one camera
// geometry; change them only with new calibration data.
type Params struct {
	BlockSize        int     `yaml:"block_size"`        // adaptive threshold neighborhood (odd)
	Offset           float64 `yaml:"offset"`            // subtracted from the Gaussian mean
	MedianKernel     int     `yaml:"median_kernel"`     // median filter aperture (odd)
	DilateKernel     int     `yaml:"dilate_kernel"`     // square all-ones structuring element
	DilateIterations int     `yaml:"dilate_iterations"`
	Threshold        int     `yaml:"threshold"` // nonzero pixels at which a space is occupied
}

// DefaultParams returns the values the recording was calibrated with.
func DefaultParams() Params {
	return Params{
		BlockSize:        25,
		Offset:           16,
		MedianKernel:     5,
		DilateKernel:     5,
		DilateIterations: 1,
		Threshold:        900,
	}
}

// Validate checks the constraints OpenCV places on the filter sizes.
func (p Params) Validate() error {
	if p.BlockSize <= 1 || p.BlockSize%2 == 0 {
		return fmt.Errorf("block size must be odd and greater than 1, got %d", p.BlockSize)
	}
	if p.MedianKernel <= 1 || p.MedianKernel%2 == 0 {
		return fmt.Errorf("median kernel must be odd and greater than 1, got %d", p.MedianKernel)
	}
	if p.DilateKernel <= 0 {
		return fmt.Errorf("dilate kernel must be positive, got %d", p.DilateKernel)
	}
	if p.DilateIterations <= 0 {
		return fmt.Errorf("dilate iterations must be positive, got %d", p.DilateIterations)
	}
	if p.Threshold <= 0 {
		return fmt.Errorf("occupancy threshold must be positive, got %d", p.Threshold)
	}
	return nil
}

// Occupied applies the classification rule to a pixel count.
func (p Params) Occupied(count int) bool {
	return count >= p.Threshold
}
