package recorder

// Fixed-point BT.601 studio-swing coefficients (x/256).
//
//	Y =  0.2578125 R + 0.50390625 G + 0.09765625 B + 16
//	U = -0.1484375 R - 0.2890625  G + 0.4375     B + 128
//	V =  0.4375    R - 0.3671875  G - 0.0703125  B + 128
const (
	yR, yG, yB = 66, 129, 25
	uR, uG, uB = -38, -74, 112
	vR, vG, vB = 112, -94, -18
)

// RGBAToI420 converts a packed RGBA image to I420. Luma is computed per
// pixel; chroma is computed once per 2x2 block from the block's summed
// RGB, so U and V are the conversion of the block average. Results are
// truncated, which makes the output bit-exact across platforms.
// Width and height must be even.
func RGBAToI420(rgba []byte, stride, width, height int) *VideoFrame {
	out := NewI420Frame(width, height)
	RGBAToI420Into(out, rgba, stride)
	return out
}

// RGBAToI420Into converts into a preallocated I420 frame whose
// dimensions define the conversion size.
func RGBAToI420Into(dst *VideoFrame, rgba []byte, stride int) {
	width, height := dst.Width, dst.Height
	if stride <= 0 {
		stride = width * 4
	}
	yp, up, vp := dst.Data[0], dst.Data[1], dst.Data[2]
	ys, us, vs := dst.Stride[0], dst.Stride[1], dst.Stride[2]

	for y := 0; y < height; y += 2 {
		row0 := rgba[y*stride:]
		row1 := rgba[(y+1)*stride:]
		for x := 0; x < width; x += 2 {
			o0 := x * 4
			o1 := o0 + 4

			r00, g00, b00 := int(row0[o0]), int(row0[o0+1]), int(row0[o0+2])
			r01, g01, b01 := int(row0[o1]), int(row0[o1+1]), int(row0[o1+2])
			r10, g10, b10 := int(row1[o0]), int(row1[o0+1]), int(row1[o0+2])
			r11, g11, b11 := int(row1[o1]), int(row1[o1+1]), int(row1[o1+2])

			yp[y*ys+x] = lumaOf(r00, g00, b00)
			yp[y*ys+x+1] = lumaOf(r01, g01, b01)
			yp[(y+1)*ys+x] = lumaOf(r10, g10, b10)
			yp[(y+1)*ys+x+1] = lumaOf(r11, g11, b11)

			sr := r00 + r01 + r10 + r11
			sg := g00 + g01 + g10 + g11
			sb := b00 + b01 + b10 + b11

			// Sums carry 2 extra bits; shift by 8+2.
			up[(y/2)*us+x/2] = clampByte(((uR*sr + uG*sg + uB*sb) >> 10) + 128)
			vp[(y/2)*vs+x/2] = clampByte(((vR*sr + vG*sg + vB*sb) >> 10) + 128)
		}
	}
}

func lumaOf(r, g, b int) byte {
	return byte(((yR*r + yG*g + yB*b) >> 8) + 16)
}

// I420ToRGBA converts an I420 frame back to packed RGBA, sampling chroma
// with nearest-neighbour upsampling. Alpha is set to 255.
func I420ToRGBA(f *VideoFrame) []byte {
	w, h := f.Width, f.Height
	out := make([]byte, w*h*4)
	yp, up, vp := f.Data[0], f.Data[1], f.Data[2]
	ys, us, vs := f.Stride[0], f.Stride[1], f.Stride[2]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := 298 * (int(yp[y*ys+x]) - 16)
			d := int(up[(y/2)*us+x/2]) - 128
			e := int(vp[(y/2)*vs+x/2]) - 128

			o := (y*w + x) * 4
			out[o] = clampByte((c + 409*e + 128) >> 8)
			out[o+1] = clampByte((c - 100*d - 208*e + 128) >> 8)
			out[o+2] = clampByte((c + 516*d + 128) >> 8)
			out[o+3] = 255
		}
	}
	return out
}

// FillBlack sets an I420 frame to video black.
func FillBlack(f *VideoFrame) {
	for i := range f.Data[0] {
		f.Data[0][i] = 16
	}
	for _, plane := range f.Data[1:] {
		for i := range plane {
			plane[i] = 128
		}
	}
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
